// Package guard decides whether a route may be shown for a session state.
package guard

import (
	"strings"

	"labportal/client/internal/rbac"
	"labportal/client/internal/session"
)

type Access int

const (
	Public Access = iota
	Protected
	AdminOnly
)

const (
	LoginPath = "/login"
	HomePath  = "/"
)

type Route struct {
	Path   string
	Access Access
}

// Routes is the navigation table of the portal.
var Routes = []Route{
	{Path: "/", Access: Public},
	{Path: "/lab1", Access: Public},
	{Path: "/lab2", Access: Public},
	{Path: "/lab3", Access: Public},
	{Path: "/counter", Access: Public},
	{Path: "/login", Access: Public},
	{Path: "/register", Access: Public},
	{Path: "/feedback", Access: Public},
	{Path: "/profile", Access: Protected},
	{Path: "/admin", Access: AdminOnly},
}

type Decision struct {
	Path     string
	Allow    bool
	Redirect string
	NotFound bool
}

func AllowProtected(s session.State) bool {
	return s.LoggedIn
}

func AllowAdmin(s session.State) bool {
	return s.LoggedIn && s.Identity != nil && s.Identity.Role == rbac.RoleAdmin
}

// Resolve is evaluated on every navigation; nothing is cached.
func Resolve(path string, s session.State) Decision {
	path = normalize(path)
	route, ok := lookup(path)
	if !ok {
		return Decision{Path: path, Redirect: HomePath, NotFound: true}
	}

	switch route.Access {
	case Protected:
		if !AllowProtected(s) {
			return Decision{Path: path, Redirect: LoginPath}
		}
	case AdminOnly:
		if !AllowAdmin(s) {
			return Decision{Path: path, Redirect: HomePath}
		}
	}
	return Decision{Path: path, Allow: true}
}

func lookup(path string) (Route, bool) {
	for _, r := range Routes {
		if r.Path == path {
			return r, true
		}
	}
	return Route{}, false
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}
