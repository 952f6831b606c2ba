package server

import "fmt"

// Normalize turns "8080" into ":8080"; an empty address picks a free port.
func Normalize(addr string) string {
	if addr == "" {
		return ":0"
	}

	if addr[0] == ':' {
		return addr
	}

	return fmt.Sprintf(":%s", addr)
}
