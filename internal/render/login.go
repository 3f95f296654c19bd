package render

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/ftdigest/internal/session"
)

// Selector chains for the login flow. The site's markup drifts, so each
// step tries several selectors before giving up.
var (
	emailInputSelectors = []string{
		"input#enter-email",
		`input[name="email"]`,
		`input[type="email"]`,
	}
	ssoLinkSelectors = []string{
		"a#sso-redirect-button",
		`a[href*="sso"]`,
		"a.o-buttons--primary",
	}
	institutionInputSelectors = []string{
		"input#enter-institution-id",
		`input[type="text"]`,
		`input[type="email"]`,
	}
	passwordInputSelectors = []string{
		"input#enter-password",
		`input[type="password"]`,
	}
)

// Login executes the whole multi-step flow as a unit: email submission,
// SSO hop to the institution, institution credential submission, and a
// success-marker probe. Any step failing fails the whole call; the
// session manager retries the unit, never resumes mid-step.
func (c *Client) Login(ctx context.Context, cred session.Credential) ([]byte, error) {
	// A failed attempt must not leak half-established cookies into the
	// next one.
	if err := c.ImportCookies([]byte("[]")); err != nil {
		return nil, err
	}

	// Step 1: submit the email on the login page.
	doc, _, err := c.getDocument(ctx, c.resolve(c.opts.LoginPath))
	if err != nil {
		return nil, fmt.Errorf("login page: %w", err)
	}
	emailInput := firstMatch(doc, emailInputSelectors)
	if emailInput == nil {
		return nil, fmt.Errorf("login page: no email input found")
	}
	doc, pageURL, err := c.submitForm(ctx, doc.Url, emailInput, map[string]string{
		inputName(emailInput, "email"): cred.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("submitting email: %w", err)
	}

	// Step 2: follow the institutional SSO redirect when offered.
	if link := firstMatch(doc, ssoLinkSelectors); link != nil {
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return nil, fmt.Errorf("sso link has no href")
		}
		doc, pageURL, err = c.getDocument(ctx, resolveRef(pageURL, href))
		if err != nil {
			return nil, fmt.Errorf("sso redirect: %w", err)
		}
	}

	// Step 3: institution credentials.
	passwordInput := firstMatch(doc, passwordInputSelectors)
	if passwordInput == nil {
		return nil, fmt.Errorf("institution login: no password input found")
	}
	values := map[string]string{
		inputName(passwordInput, "password"): cred.Secret(),
	}
	if idInput := firstMatch(doc, institutionInputSelectors); idInput != nil {
		values[inputName(idInput, "username")] = cred.InstitutionID
	}
	doc, _, err = c.submitForm(ctx, pageURL, passwordInput, values)
	if err != nil {
		return nil, fmt.Errorf("submitting institution credentials: %w", err)
	}

	// Step 4: the landing page must carry the logged-in marker.
	if doc.Find(c.opts.SuccessSelector).Length() == 0 {
		ok, err := c.probe(ctx)
		if err != nil {
			return nil, fmt.Errorf("login probe: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: no success marker after login", session.ErrAuth)
		}
	}

	return c.ExportCookies()
}

// Validate probes whether a cookie blob still grants access.
func (c *Client) Validate(ctx context.Context, blob []byte) (bool, error) {
	if len(blob) == 0 {
		return false, nil
	}
	if err := c.ImportCookies(blob); err != nil {
		return false, err
	}
	return c.probe(ctx)
}

// probe fetches the probe path and looks for the success marker.
func (c *Client) probe(ctx context.Context) (bool, error) {
	page, err := c.Fetch(ctx, c.resolve(c.opts.ProbePath))
	if err != nil {
		return false, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return false, fmt.Errorf("parsing probe page: %w", err)
	}
	return doc.Find(c.opts.SuccessSelector).Length() > 0, nil
}

// getDocument fetches a URL and parses it, recording the final URL after
// redirects so relative form actions resolve correctly.
func (c *Client) getDocument(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	resp, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, nil, classifyTransportError(pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}
	doc.Url = resp.Request.URL
	return doc, resp.Request.URL, nil
}

// submitForm posts the form enclosing the given input, carrying over the
// form's pre-populated fields (hidden tokens included) and overriding
// them with the supplied values.
func (c *Client) submitForm(ctx context.Context, pageURL *url.URL, input *goquery.Selection, overrides map[string]string) (*goquery.Document, *url.URL, error) {
	form := input.Closest("form")
	if form.Length() == 0 {
		return nil, nil, fmt.Errorf("input has no enclosing form")
	}

	values := url.Values{}
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		val, _ := in.Attr("value")
		values.Set(name, val)
	})
	for name, val := range overrides {
		values.Set(name, val)
	}

	action, _ := form.Attr("action")
	target := pageURL.String()
	if action != "" {
		target = resolveRef(pageURL, action)
	}

	resp, err := c.postForm(ctx, target, values)
	if err != nil {
		return nil, nil, classifyTransportError(target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, fmt.Errorf("posting %s: status %d: %s", target, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing form response: %w", err)
	}
	doc.Url = resp.Request.URL
	return doc, resp.Request.URL, nil
}

// firstMatch returns the first selection matched by any selector in the
// chain, or nil.
func firstMatch(doc *goquery.Document, selectors []string) *goquery.Selection {
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}

// inputName returns the input's name attribute, or a fallback.
func inputName(input *goquery.Selection, fallback string) string {
	if name, ok := input.Attr("name"); ok && name != "" {
		return name
	}
	return fallback
}

// resolveRef resolves href against the page it appeared on.
func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
