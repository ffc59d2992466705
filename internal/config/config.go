package config

// Built-in defaults target the UNIMIB Moodle deployment; any other site can
// be pointed at through the config file.
const (
	// AppName is used for XDG directory paths.
	AppName = "moodlegrab"

	DefaultBaseURL = "https://elearning.unimib.it"

	// DefaultIdPSelector locates the identity-provider link on the SSO
	// provider-selection page.
	DefaultIdPSelector = "#unimibsaml_0"

	DefaultKalturaServiceURL = "https://cdnapisec.kaltura.com"
	DefaultKalturaPartnerID  = "1533641"

	// DefaultLanguage picks the variant of {mlang} multi-language strings.
	DefaultLanguage = "it"

	DefaultTransfers   = 12
	DefaultConnections = 4

	DefaultCookieJar      = "cookies.json"
	DefaultVideosManifest = "videos.json"
)

// defaultIgnoredModules are interactive course modules with nothing to
// download.
var defaultIgnoredModules = []string{
	"assign",
	"choice",
	"choicegroup",
	"feedback",
	"forum",
	"label",
	"quiz",
	"page",
	"customcert",
	"scorm",
}

type Config struct {
	BaseURL           string   `yaml:"base_url"`
	IdPSelector       string   `yaml:"idp_selector"`
	KalturaServiceURL string   `yaml:"kaltura_service_url"`
	KalturaPartnerID  string   `yaml:"kaltura_partner_id"`
	Language          string   `yaml:"language"`
	DestDir           string   `yaml:"destdir"`
	Transfers         int      `yaml:"transfers"`
	Connections       int      `yaml:"connections"`
	CookieJar         string   `yaml:"cookiejar"`
	VideosManifest    string   `yaml:"videos_json"`
	IgnoredModules    []string `yaml:"ignored_modules"`
}

func Default() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		IdPSelector:       DefaultIdPSelector,
		KalturaServiceURL: DefaultKalturaServiceURL,
		KalturaPartnerID:  DefaultKalturaPartnerID,
		Language:          DefaultLanguage,
		DestDir:           ".",
		Transfers:         DefaultTransfers,
		Connections:       DefaultConnections,
		CookieJar:         DefaultCookieJar,
		VideosManifest:    DefaultVideosManifest,
	}
}

// IsIgnoredModule reports whether a modname should be skipped during the
// crawl. Config entries extend the built-in list, they do not replace it.
func (c Config) IsIgnoredModule(modname string) bool {
	for _, m := range defaultIgnoredModules {
		if m == modname {
			return true
		}
	}
	for _, m := range c.IgnoredModules {
		if m == modname {
			return true
		}
	}
	return false
}
