package auth

import (
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/elearn-tools/moodlegrab/internal/moodle"
)

const (
	mobileScheme = "moodlemobile://"

	// continueMarker identifies the JavaScript-less interstitial pages the
	// SSO emits; each carries one form that a browser would auto-submit.
	continueMarker = "Since your browser does not support JavaScript"

	ssoAcceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

	maxContinueLoops = 100
	maxRedirectHops  = 20
)

// LoginResult carries the decoded mobile-app token triple.
type LoginResult struct {
	SiteID       string
	Token        string
	PrivateToken string
}

// Credentials for the identity-provider form.
type Credentials struct {
	Username string
	Password string
}

// Login walks the mobile-token flow: hit the launch URL, run the SSO form
// dance if the jar cookies are stale, and decode the token from the final
// moodlemobile:// redirect. idpSelector locates the identity-provider link
// on the provider-selection page.
func (s *Session) Login(baseURL, idpSelector string, creds Credentials) (*LoginResult, error) {
	logger := log.With().Str("op", "auth/login").Logger()
	passport := rand.Float64()*900 + 100
	launchURL := moodle.MobileLaunchURL(baseURL, passport)

	req, err := http.NewRequest("GET", launchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating launch request: %v", err)
	}
	resp, err := s.Client.DoNoRedirect(req)
	if err != nil {
		return nil, fmt.Errorf("error requesting mobile token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("mobile token request returned status %d, expected a redirect", resp.StatusCode)
	}
	location := resp.Header.Get("Location")

	if !strings.HasPrefix(location, mobileScheme) {
		logger.Debug().Msg("Session cookies stale, starting SSO flow")
		location, err = s.ssoLogin(location, idpSelector, creds)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Debug().Msg("Reusing session cookies, skipping SSO")
	}
	return decodeMobileToken(location)
}

// ssoLogin follows the SSO chain from the launch redirect to the final
// moodlemobile:// URL.
func (s *Session) ssoLogin(startURL, idpSelector string, creds Credentials) (string, error) {
	logger := log.With().Str("op", "auth/sso").Logger()

	doc, finalURL, mobileLoc, err := s.requestSkipContinue("GET", startURL, nil)
	if err != nil {
		return "", err
	}
	if mobileLoc != "" {
		return mobileLoc, nil
	}

	// Identity-provider selection page
	idpHref, ok := doc.Find(idpSelector + " a").First().Attr("href")
	if !ok {
		if idpHref, ok = doc.Find(idpSelector).First().Attr("href"); !ok {
			return "", fmt.Errorf("identity provider link %q not found on SSO page", idpSelector)
		}
	}
	idpURL, err := resolveRef(finalURL, idpHref)
	if err != nil {
		return "", fmt.Errorf("error resolving identity provider link: %v", err)
	}
	logger.Debug().Str("url", idpURL).Msg("Following identity provider link")

	doc, finalURL, mobileLoc, err = s.requestSkipContinue("GET", idpURL, nil)
	if err != nil {
		return "", err
	}
	if mobileLoc != "" {
		return mobileLoc, nil
	}

	// Credential page: the form holding the j_username input
	userInput := doc.Find(`input[name="j_username"]`).First()
	if userInput.Length() == 0 {
		return "", fmt.Errorf("credential form not found on identity provider page")
	}
	form := userInput.Closest("form")
	action, err := resolveRef(finalURL, form.AttrOr("action", ""))
	if err != nil {
		return "", fmt.Errorf("error resolving credential form action: %v", err)
	}
	values := url.Values{}
	form.Find("input").Each(func(_ int, sel *goquery.Selection) {
		name, ok := sel.Attr("name")
		if !ok || name == "" {
			return
		}
		switch name {
		case "j_username":
			values.Set(name, creds.Username)
		case "j_password":
			values.Set(name, creds.Password)
		default:
			values.Set(name, sel.AttrOr("value", ""))
		}
	})
	logger.Debug().Str("action", action).Msg("Submitting credential form")

	_, _, mobileLoc, err = s.requestSkipContinue("POST", action, values)
	if err != nil {
		return "", err
	}
	if mobileLoc == "" {
		return "", fmt.Errorf("login did not end in a mobile token redirect, check credentials")
	}
	return mobileLoc, nil
}

// requestSkipContinue performs a request, transparently unwrapping the SSO's
// auto-submit continue pages. It returns either the parsed final document
// with the URL it was served from, or the moodlemobile:// location when the
// chain ends in the token redirect.
func (s *Session) requestSkipContinue(method, target string, form url.Values) (*goquery.Document, *url.URL, string, error) {
	doc, finalURL, mobileLoc, err := s.requestHTML(method, target, form)
	if err != nil || mobileLoc != "" {
		return nil, nil, mobileLoc, err
	}

	for countdown := maxContinueLoops; ; countdown-- {
		if !strings.Contains(doc.Text(), continueMarker) {
			return doc, finalURL, "", nil
		}
		if countdown == 0 {
			return nil, nil, "", fmt.Errorf("too many SSO continue pages")
		}
		contForm := doc.Find("form").First()
		if contForm.Length() == 0 {
			return nil, nil, "", fmt.Errorf("continue page has no form")
		}
		action, err := resolveRef(finalURL, contForm.AttrOr("action", ""))
		if err != nil {
			return nil, nil, "", fmt.Errorf("error resolving continue form action: %v", err)
		}
		values := url.Values{}
		contForm.Find("input").Each(func(_ int, sel *goquery.Selection) {
			if name, ok := sel.Attr("name"); ok && name != "" {
				values.Set(name, sel.AttrOr("value", ""))
			}
		})
		method := strings.ToUpper(contForm.AttrOr("method", "GET"))
		doc, finalURL, mobileLoc, err = s.requestHTML(method, action, values)
		if err != nil || mobileLoc != "" {
			return nil, nil, mobileLoc, err
		}
	}
}

// requestHTML performs one request, following HTTP redirects by hand so a
// moodlemobile:// Location can be intercepted instead of erroring out.
func (s *Session) requestHTML(method, target string, form url.Values) (*goquery.Document, *url.URL, string, error) {
	var body io.Reader
	if method == "POST" && form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return nil, nil, "", fmt.Errorf("error creating SSO request: %v", err)
	}
	req.Header.Set("Accept", ssoAcceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	for hops := 0; hops < maxRedirectHops; hops++ {
		resp, err := s.Client.DoNoRedirect(req)
		if err != nil {
			return nil, nil, "", fmt.Errorf("error during SSO request: %v", err)
		}
		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if strings.HasPrefix(loc, mobileScheme) {
				return nil, nil, loc, nil
			}
			next, err := resp.Request.URL.Parse(loc)
			if err != nil {
				return nil, nil, "", fmt.Errorf("error resolving redirect %q: %v", loc, err)
			}
			req, err = http.NewRequest("GET", next.String(), nil)
			if err != nil {
				return nil, nil, "", err
			}
			req.Header.Set("Accept", ssoAcceptHeader)
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, nil, "", fmt.Errorf("SSO request to %s returned status %d", resp.Request.URL, resp.StatusCode)
		}
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, nil, "", fmt.Errorf("error parsing SSO page: %v", err)
		}
		return doc, resp.Request.URL, "", nil
	}
	return nil, nil, "", fmt.Errorf("too many redirects during SSO")
}

func resolveRef(base *url.URL, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty reference")
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// decodeMobileToken extracts the token triple from a moodlemobile:// URL.
// The token query value is base64 of "siteID:::wstoken:::privatetoken".
func decodeMobileToken(location string) (*LoginResult, error) {
	if !strings.HasPrefix(location, mobileScheme) {
		return nil, fmt.Errorf("invalid token redirect URL")
	}
	parts := strings.SplitN(location, "token=", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("token redirect has no token parameter")
	}
	raw := strings.SplitN(parts[1], "&", 2)[0]
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("error decoding mobile token: %v", err)
	}
	fields := strings.Split(string(decoded), ":::")
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed mobile token")
	}
	result := &LoginResult{
		SiteID: fields[0],
		Token:  fields[1],
	}
	if len(fields) > 2 {
		result.PrivateToken = fields[2]
	}
	return result, nil
}
