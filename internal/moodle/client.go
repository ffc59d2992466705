package moodle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/elearn-tools/moodlegrab/internal/utils"
)

// Client talks to the Moodle REST webservice with a wstoken obtained from
// the mobile-app login flow.
type Client struct {
	http    utils.HTTPDoer
	restURL string
	token   string
	lang    string
}

func NewClient(httpClient utils.HTTPDoer, baseURL, token, lang string) *Client {
	return &Client{
		http:    httpClient,
		restURL: RestURL(baseURL),
		token:   token,
		lang:    lang,
	}
}

// call invokes one webservice function and decodes the JSON reply into out.
// Webservice failures come back as HTTP 200 with an exception body, so the
// reply is sniffed before decoding.
func (c *Client) call(wsfunction string, params url.Values, out any) error {
	form := url.Values{}
	for k, vs := range params {
		form[k] = vs
	}
	form.Set("wstoken", c.token)
	form.Set("wsfunction", wsfunction)
	form.Set("moodlewsrestformat", "json")
	form.Set("moodlewssettinglang", c.lang)

	req, err := http.NewRequest("POST", c.restURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("error creating webservice request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error calling %s: %v", wsfunction, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webservice %s returned status %d", wsfunction, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading %s reply: %v", wsfunction, err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wsErr wsError
		if err := json.Unmarshal(trimmed, &wsErr); err == nil && wsErr.Exception != "" {
			return fmt.Errorf("webservice %s failed: %s (%s)", wsfunction, wsErr.Message, wsErr.ErrorCode)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("error decoding %s reply: %v", wsfunction, err)
	}
	return nil
}

func (c *Client) SiteInfo() (*SiteInfo, error) {
	var info SiteInfo
	if err := c.call("core_webservice_get_site_info", url.Values{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Categories returns all course categories, names already resolved for the
// client's preferred language.
func (c *Client) Categories() (map[int]Category, error) {
	var categories []Category
	if err := c.call("core_course_get_categories", url.Values{}, &categories); err != nil {
		return nil, err
	}
	byID := make(map[int]Category, len(categories))
	for _, cat := range categories {
		cat.Name = LangOrFirst(cat.Name, c.lang)
		byID[cat.ID] = cat
	}
	return byID, nil
}

func (c *Client) UserCourses(userID int) ([]Course, error) {
	params := url.Values{}
	params.Set("userid", strconv.Itoa(userID))
	params.Set("returnusercount", "0")
	params.Set("moodlewssettingfilter", "true")
	params.Set("moodlewssettingfileurl", "true")
	var courses []Course
	if err := c.call("core_enrol_get_users_courses", params, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// CourseContents fetches the full section/module tree of one course,
// stealth modules included.
func (c *Client) CourseContents(courseID int) ([]Section, error) {
	params := url.Values{}
	params.Set("courseid", strconv.Itoa(courseID))
	for i, opt := range [][2]string{
		{"excludemodules", "0"},
		{"excludecontents", "0"},
		{"includestealthmodules", "1"},
	} {
		params.Set(fmt.Sprintf("options[%d][name]", i), opt[0])
		params.Set(fmt.Sprintf("options[%d][value]", i), opt[1])
	}
	var sections []Section
	if err := c.call("core_course_get_contents", params, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}
