package moodle

import (
	"strconv"
	"strings"
)

// SiteInfo is the subset of core_webservice_get_site_info the tool needs.
type SiteInfo struct {
	SiteName             string `json:"sitename"`
	Username             string `json:"username"`
	FullName             string `json:"fullname"`
	UserID               int    `json:"userid"`
	UserPrivateAccessKey string `json:"userprivateaccesskey"`
	SiteURL              string `json:"siteurl"`
}

type Category struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Parent int    `json:"parent"`
	Path   string `json:"path"`
}

// PathIDs parses the category path ("/1/23/456") into its ancestor chain,
// the category itself included.
func (c Category) PathIDs() []int {
	var ids []int
	for _, part := range strings.Split(c.Path, "/") {
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

type Course struct {
	ID        int    `json:"id"`
	FullName  string `json:"fullname"`
	ShortName string `json:"shortname"`
	Category  int    `json:"category"`
}

type Section struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Modules []Module `json:"modules"`
}

type Module struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	ModName   string    `json:"modname"`
	ModPlural string    `json:"modplural"`
	URL       string    `json:"url"`
	Contents  []Content `json:"contents"`
}

type Content struct {
	Type     string `json:"type"`
	FileName string `json:"filename"`
	FilePath string `json:"filepath"`
	FileURL  string `json:"fileurl"`
	FileSize int64  `json:"filesize"`
}

// wsError is how the REST endpoint reports failures: an HTTP 200 with an
// exception object instead of the requested payload.
type wsError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}
