package http

import (
	"net/http"
	"strings"
)

// RouterConfig wires handlers and middleware into the API router.
type RouterConfig struct {
	Imports    *ImportHandler
	Metrics    http.Handler
	Middleware []func(http.Handler) http.Handler
}

// NewRouter builds the API handler.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Imports != nil {
		mux.HandleFunc("/imports", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			cfg.Imports.Create(w, r)
		})
		mux.HandleFunc("/imports/", func(w http.ResponseWriter, r *http.Request) {
			rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/imports/"), "/")
			parts := strings.Split(rest, "/")
			if parts[0] == "" {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithTransactionID(r.Context(), parts[0]))

			switch {
			case len(parts) == 1:
				switch r.Method {
				case http.MethodGet:
					cfg.Imports.Get(w, r)
				case http.MethodDelete:
					cfg.Imports.Cancel(w, r)
				default:
					methodNotAllowed(w, http.MethodGet, http.MethodDelete)
				}
			case len(parts) == 2 && parts[1] == "selection":
				if r.Method != http.MethodPut {
					methodNotAllowed(w, http.MethodPut)
					return
				}
				cfg.Imports.SetSelection(w, r)
			case len(parts) == 2 && parts[1] == "commit":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cfg.Imports.Commit(w, r)
			case len(parts) == 3 && parts[1] == "changes" && parts[2] != "":
				if r.Method != http.MethodPut {
					methodNotAllowed(w, http.MethodPut)
					return
				}
				cfg.Imports.Toggle(w, r, parts[2])
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}

	return handler
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
