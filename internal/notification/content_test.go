package notification

import (
	"net/url"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	g := NewGenerator("Acme Shop", "https://shop.example.com", "$")

	tests := []struct {
		name        string
		typ         Type
		ctx         Context
		wantSubject string
		wantBody    []string
	}{
		{
			name:        "price drop",
			typ:         TypePriceDrop,
			ctx:         Context{"product_name": "Widget", "old_price": 20.00, "new_price": 15.00, "product_url": "https://shop.example.com/widget"},
			wantSubject: "Price Drop Alert: Widget",
			wantBody:    []string{"Widget", "$20.00", "$15.00", "https://shop.example.com/widget"},
		},
		{
			name:        "back in stock",
			typ:         TypeBackInStock,
			ctx:         Context{"product_name": "Gadget", "product_url": "https://shop.example.com/gadget"},
			wantSubject: "Back in Stock: Gadget",
			wantBody:    []string{"Gadget", "back in stock", "https://shop.example.com/gadget"},
		},
		{
			name:        "reminder",
			typ:         TypeReminder,
			ctx:         Context{"item_count": 4, "wishlist_url": "https://shop.example.com/wishlist"},
			wantSubject: "Reminder: You have 4 items in your wishlist",
			wantBody:    []string{"4 items", "https://shop.example.com/wishlist"},
		},
		{
			name:        "share",
			typ:         TypeShareNotification,
			ctx:         Context{"shared_by": "Alice", "wishlist_name": "Birthday", "share_url": "https://shop.example.com/s/abc", "message": "Pick something!"},
			wantSubject: "Alice shared Birthday with you",
			wantBody:    []string{"Alice", "Birthday", "Pick something!", "https://shop.example.com/s/abc"},
		},
		{
			name:        "promotional passthrough",
			typ:         TypePromotional,
			ctx:         Context{"subject": "Summer sale", "content": "Everything 20% off"},
			wantSubject: "Summer sale",
			wantBody:    []string{"Everything 20% off"},
		},
		{
			name:        "estimate request passthrough",
			typ:         TypeEstimateRequest,
			ctx:         Context{"subject": "Quote #12", "content": "Please quote 3 items"},
			wantSubject: "Quote #12",
			wantBody:    []string{"Please quote 3 items"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body := g.Render(tt.typ, tt.ctx)
			if subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", subject, tt.wantSubject)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(body, want) {
					t.Errorf("body missing %q:\n%s", want, body)
				}
			}
			if !strings.Contains(body, "This email was sent by Acme Shop (https://shop.example.com)") {
				t.Errorf("body missing site footer:\n%s", body)
			}
		})
	}
}

func TestRenderMissingFieldsDegradeToEmpty(t *testing.T) {
	g := NewGenerator("Acme", "https://acme.test", "$")

	subject, body := g.Render(TypePriceDrop, nil)
	if subject != "Price Drop Alert: " {
		t.Errorf("subject = %q", subject)
	}
	if strings.Contains(body, "<nil>") || strings.Contains(body, "$0.00") {
		t.Errorf("missing fields should render empty:\n%s", body)
	}

	subject, _ = g.Render(TypeShareNotification, Context{})
	if subject != " shared  with you" {
		t.Errorf("subject = %q", subject)
	}
}

func TestRenderDeterministic(t *testing.T) {
	g := NewGenerator("Acme", "https://acme.test", "€")
	ctx := Context{"product_name": "Lamp", "old_price": "30", "new_price": "25.5"}

	s1, b1 := g.Render(TypePriceDrop, ctx)
	s2, b2 := g.Render(TypePriceDrop, ctx)
	if s1 != s2 || b1 != b2 {
		t.Error("Render is not deterministic")
	}
	if !strings.Contains(b1, "€30.00") || !strings.Contains(b1, "€25.50") {
		t.Errorf("string prices not formatted:\n%s", b1)
	}
}

func TestTrackLinks(t *testing.T) {
	g := NewGenerator("Acme", "https://shop.example.com", "$")

	tests := []struct {
		name     string
		trackURL string
		body     string
		want     string
	}{
		{
			name: "site link",
			body: "View product: https://shop.example.com/widget\n",
			want: "View product: https://shop.example.com/t/click/9?u=" + url.QueryEscape("https://shop.example.com/widget") + "\n",
		},
		{
			name:     "separate tracking host",
			trackURL: "https://api.example.com/",
			body:     "https://shop.example.com/wishlist",
			want:     "https://api.example.com/t/click/9?u=" + url.QueryEscape("https://shop.example.com/wishlist"),
		},
		{
			name: "foreign link untouched",
			body: "See https://other.example.net/x",
			want: "See https://other.example.net/x",
		},
		{
			name: "footer parentheses stay outside the link",
			body: "sent by Acme (https://shop.example.com)",
			want: "sent by Acme (https://shop.example.com/t/click/9?u=" + url.QueryEscape("https://shop.example.com") + ")",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.TrackingURL = tt.trackURL
			if got := g.TrackLinks(9, tt.body); got != tt.want {
				t.Errorf("TrackLinks = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLCarriesOpenPixel(t *testing.T) {
	g := NewGenerator("Acme", "https://shop.example.com", "$")
	out := g.HTML(9, "Price <b>drop</b>\nhttps://shop.example.com/t/click/9?u=x&y=1\n")

	for _, want := range []string{
		`<img src="https://shop.example.com/t/open/9"`,
		"Price &lt;b&gt;drop&lt;/b&gt;<br>",
		`<a href="https://shop.example.com/t/click/9?u=x&amp;y=1">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("html missing %q:\n%s", want, out)
		}
	}
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"price_drop", "back_in_stock", "promotional", "reminder", "share_notification", "estimate_request"} {
		if _, err := ParseType(s); err != nil {
			t.Errorf("ParseType(%q) error = %v", s, err)
		}
	}
	if _, err := ParseType("sms_blast"); err == nil {
		t.Error("ParseType accepted an unknown type")
	}
}
