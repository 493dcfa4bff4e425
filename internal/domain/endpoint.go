package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Поддерживаемые HTTP методы endpoint.
var endpointMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
	"PATCH":  true,
}

// DefaultEndpointVersion — версия endpoint по умолчанию.
const DefaultEndpointVersion = "1.0"

// Endpoint — внешне адресуемый (project, url, method, version),
// запускающий активный workflow.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`

	// URL — нормализованный путь, всегда начинается и заканчивается на "/".
	URL string `json:"endpoint_url"`

	Method      string    `json:"request_method"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// NormalizeURL приводит путь endpoint к виду "/a/b/".
// Повторяющиеся слэши схлопываются.
func NormalizeURL(path string) string {
	parts := strings.Split(strings.TrimSpace(path), "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/") + "/"
}

// IsValidMethod проверяет HTTP метод endpoint.
func IsValidMethod(method string) bool {
	return endpointMethods[strings.ToUpper(method)]
}

// Normalize нормализует URL, метод и версию.
func (e *Endpoint) Normalize() {
	e.URL = NormalizeURL(e.URL)
	e.Method = strings.ToUpper(e.Method)
	if e.Version == "" {
		e.Version = DefaultEndpointVersion
	}
}
