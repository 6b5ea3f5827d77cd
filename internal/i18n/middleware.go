package i18n

import "net/http"

// Middleware picks a localizer per request from the ?lang query parameter,
// then the Accept-Language header, then the bundle default.
func (b *Bundle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loc := b.NewLocalizer(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
		next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
	})
}
