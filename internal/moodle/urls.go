package moodle

import (
	"fmt"
	"strings"
)

const (
	restPath         = "/webservice/rest/server.php"
	mobileLaunchPath = "/admin/tool/mobile/launch.php"
	pluginfilePath   = "/webservice/pluginfile.php"
	tokenFilePath    = "/tokenpluginfile.php"
)

// MobileLaunchURL builds the mobile-app launch URL whose redirect carries
// the webservice token.
func MobileLaunchURL(baseURL string, passport float64) string {
	return fmt.Sprintf("%s%s?service=moodle_mobile_app&passport=%g&urlscheme=moodlemobile", strings.TrimRight(baseURL, "/"), mobileLaunchPath, passport)
}

// RestURL is the JSON REST webservice endpoint for a site.
func RestURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + restPath
}

// FixPluginURL rewrites webservice pluginfile URLs to the token-authenticated
// variant so plain GETs work without webservice headers. Other URLs pass
// through untouched.
func FixPluginURL(fileURL, privateAccessKey string) string {
	if !strings.Contains(fileURL, pluginfilePath) {
		return fileURL
	}
	return strings.Replace(fileURL, pluginfilePath, tokenFilePath+"/"+privateAccessKey, 1) + "&offline=1"
}
