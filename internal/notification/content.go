package notification

import (
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Generator renders notification subjects and bodies. Render has no side
// effects: the same type and context always produce the same output.
type Generator struct {
	SiteName string
	SiteURL  string
	Currency string
	// TrackingURL is the public root of the /t/open and /t/click endpoints.
	// Empty means SiteURL.
	TrackingURL string
}

// NewGenerator creates a content generator for the given site
func NewGenerator(siteName, siteURL, currency string) *Generator {
	return &Generator{
		SiteName: siteName,
		SiteURL:  siteURL,
		Currency: currency,
	}
}

// Render returns the subject and body for a notification type
func (g *Generator) Render(t Type, ctx Context) (subject, body string) {
	var b strings.Builder

	switch t {
	case TypePriceDrop:
		name := ctx.str("product_name")
		subject = "Price Drop Alert: " + name
		fmt.Fprintf(&b, "Good news! The price of %s in your wishlist has dropped.\n\n", name)
		fmt.Fprintf(&b, "Old price: %s\n", g.price(ctx, "old_price"))
		fmt.Fprintf(&b, "New price: %s\n\n", g.price(ctx, "new_price"))
		fmt.Fprintf(&b, "View product: %s\n", ctx.str("product_url"))
	case TypeBackInStock:
		name := ctx.str("product_name")
		subject = "Back in Stock: " + name
		fmt.Fprintf(&b, "%s from your wishlist is back in stock.\n\n", name)
		fmt.Fprintf(&b, "View product: %s\n", ctx.str("product_url"))
	case TypeReminder:
		count := ctx.str("item_count")
		subject = fmt.Sprintf("Reminder: You have %s items in your wishlist", count)
		fmt.Fprintf(&b, "You have %s items waiting in your wishlist.\n\n", count)
		fmt.Fprintf(&b, "View your wishlist: %s\n", ctx.str("wishlist_url"))
	case TypeShareNotification:
		sharedBy := ctx.str("shared_by")
		wishlistName := ctx.str("wishlist_name")
		subject = fmt.Sprintf("%s shared %s with you", sharedBy, wishlistName)
		fmt.Fprintf(&b, "%s shared the wishlist \"%s\" with you.\n\n", sharedBy, wishlistName)
		if msg := ctx.str("message"); msg != "" {
			fmt.Fprintf(&b, "%s\n\n", msg)
		}
		fmt.Fprintf(&b, "View wishlist: %s\n", ctx.str("share_url"))
	default:
		// promotional, estimate_request: caller supplies both parts verbatim
		subject = ctx.str("subject")
		b.WriteString(ctx.str("content"))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n--\nThis email was sent by %s (%s)\n", g.SiteName, g.SiteURL)
	return subject, b.String()
}

// price formats a monetary context value, passing non-numeric values through
func (g *Generator) price(ctx Context, key string) string {
	raw := ctx.str(key)
	if raw == "" {
		return ""
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return g.Currency + strconv.FormatFloat(f, 'f', 2, 64)
}

func (c Context) str(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

var linkPattern = regexp.MustCompile(`https?://[^\s<>"()]+`)

func (g *Generator) trackingBase() string {
	base := g.TrackingURL
	if base == "" {
		base = g.SiteURL
	}
	return strings.TrimRight(base, "/")
}

// TrackLinks routes every link to the site through /t/click/{id}. Links to
// other hosts are left alone because the click endpoint would refuse them.
func (g *Generator) TrackLinks(id int64, body string) string {
	site, err := url.Parse(g.SiteURL)
	if err != nil || site.Host == "" {
		return body
	}
	base := g.trackingBase()
	return linkPattern.ReplaceAllStringFunc(body, func(raw string) string {
		u, err := url.Parse(raw)
		if err != nil || !strings.EqualFold(u.Host, site.Host) {
			return raw
		}
		return fmt.Sprintf("%s/t/click/%d?u=%s", base, id, url.QueryEscape(raw))
	})
}

// HTML renders a text body as an HTML part with clickable links and the
// /t/open/{id} pixel.
func (g *Generator) HTML(id int64, text string) string {
	var b strings.Builder
	b.WriteString("<html><body>\n")

	last := 0
	for _, loc := range linkPattern.FindAllStringIndex(text, -1) {
		b.WriteString(htmlText(text[last:loc[0]]))
		link := html.EscapeString(text[loc[0]:loc[1]])
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, link, link)
		last = loc[1]
	}
	b.WriteString(htmlText(text[last:]))

	fmt.Fprintf(&b, `<img src="%s/t/open/%d" width="1" height="1" alt="">`+"\n", g.trackingBase(), id)
	b.WriteString("</body></html>\n")
	return b.String()
}

func htmlText(s string) string {
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br>\n")
}
