package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS 允许任意来源访问中继接口，预检请求直接返回 204。
var CORS = cors.Handler(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	AllowedHeaders: []string{"*"},
	MaxAge:         300,
})
