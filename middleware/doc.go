// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

	mux.HandleFunc("GET /polls/{id}", middleware.WithLogging(handler))

Logs method, path, status and duration_ms with a request id, which is
returned in the X-Request-ID header.

# Rate Limiting

	limiter := middleware.NewRateLimiter(cfg.VoteRateLimit, 0)
	mux.HandleFunc("POST /polls/{id}/votes", limiter.Limit(handler))

One token bucket per client; throttled requests get 429 with Retry-After.
Clients are keyed by IP unless KeyBy installs another key, such as a salted
hash of the IP.

# Errors

WriteError maps apperr kinds to statuses:

	validation, configuration  400
	authentication             401
	eligibility                403
	not found                  404
	conflict, timing           409
	tamper                     423
	external service           503
	anything else              500

The body is {"error", "code", "message"}. Internal errors never expose
their message.

# JSON Helpers

	middleware.JSONResponse(w, http.StatusOK, data)
	if err := middleware.ParseJSONBody(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

ParseJSONBody rejects unknown fields and bodies over MaxBodyBytes.

# CORS

	server := http.Server{Handler: middleware.CORS(mux)}
*/
package middleware
