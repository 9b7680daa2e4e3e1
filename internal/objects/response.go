// Package objects holds the wire-level payload shapes shared by the HTTP
// surface.
package objects

type ErrorResponse struct {
	Error Error `json:"error"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
