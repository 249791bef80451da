package director

import (
	"os"
	"path/filepath"
	"strings"
)

// ServiceChecker reports whether a published service is currently available
type ServiceChecker interface {
	Exists(service string) bool
}

// DirServices checks services as entries below a root directory, where a
// service "config/io" is published at <Root>/config/io
type DirServices struct {
	Root string
}

// NewDirServices creates a checker rooted at root, DefaultServiceDir when empty
func NewDirServices(root string) *DirServices {
	if root == "" {
		root = DefaultServiceDir
	}
	return &DirServices{Root: root}
}

// Exists reports whether the service path exists
func (d *DirServices) Exists(service string) bool {
	clean := filepath.Clean("/" + service)
	if clean == "/" || strings.Contains(service, "..") {
		return false
	}
	_, err := os.Stat(filepath.Join(d.Root, clean))
	return err == nil
}

// ServicesExist reports whether every service exists
func ServicesExist(c ServiceChecker, services []string) bool {
	for _, s := range services {
		if !c.Exists(s) {
			return false
		}
	}
	return true
}

// ServicesGone reports whether none of the services exists
func ServicesGone(c ServiceChecker, services []string) bool {
	for _, s := range services {
		if c.Exists(s) {
			return false
		}
	}
	return true
}

// MissingServices returns the services that do not exist
func MissingServices(c ServiceChecker, services []string) []string {
	var out []string
	for _, s := range services {
		if !c.Exists(s) {
			out = append(out, s)
		}
	}
	return out
}
