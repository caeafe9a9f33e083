package rest

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
)

// 1x1 transparent GIF
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackOpen handles GET /t/open/{id}. The pixel is served whatever happens
// to the tracking update.
func (h *Handler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	if id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64); err == nil {
		if err := h.notificationService.TrackOpen(r.Context(), id); err != nil && !errors.Is(err, notification.ErrNotFound) {
			h.logger.Warn("Failed to track open", zap.Int64("id", id), zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixel)
}

// TrackClick handles GET /t/click/{id}?u=<url>. Only targets on the site's
// own host are followed; anything else lands on the site root.
func (h *Handler) TrackClick(w http.ResponseWriter, r *http.Request) {
	if id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64); err == nil {
		if err := h.notificationService.TrackClick(r.Context(), id); err != nil && !errors.Is(err, notification.ErrNotFound) {
			h.logger.Warn("Failed to track click", zap.Int64("id", id), zap.Error(err))
		}
	}

	http.Redirect(w, r, h.redirectTarget(r.URL.Query().Get("u")), http.StatusFound)
}

func (h *Handler) redirectTarget(raw string) string {
	home := h.siteURL.String()
	if raw == "" {
		return home
	}
	target, err := url.Parse(raw)
	if err != nil {
		return home
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return home
	}
	if !strings.EqualFold(target.Host, h.siteURL.Host) {
		return home
	}
	return target.String()
}
