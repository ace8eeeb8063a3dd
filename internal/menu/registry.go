// Package menu holds the named selectable-list menus the bot can send.
package menu

import (
	"fmt"
	"strings"

	"github.com/pondem87/thuso-monorepo-sub000/internal/whatsapp"
)

// Home is the top-level menu shown to users.
const Home = "home"

// ItemProducts is the row id of the products entry of the home menu.
const ItemProducts = "products"

// Definition is a list message template. Footer text is derived from the
// tenant's branding when compiled.
type Definition struct {
	Name     string
	Header   string
	Body     string
	Button   string
	Sections []whatsapp.Section
}

// Branding is the tenant text stamped on compiled menus.
type Branding struct {
	BusinessName string
	Tagline      string
}

// Footer returns the branded footer, cropped to the channel footer limit.
func (b Branding) Footer() string {
	name := strings.TrimSpace(b.BusinessName)
	tagline := strings.TrimSpace(b.Tagline)
	switch {
	case name == "":
		return whatsapp.Crop(tagline, whatsapp.MaxFooterText)
	case tagline == "":
		return whatsapp.Crop(name, whatsapp.MaxFooterText)
	default:
		return whatsapp.Crop(name+" | "+tagline, whatsapp.MaxFooterText)
	}
}

// Registry resolves menus by name.
type Registry struct {
	menus map[string]Definition
}

// NewRegistry builds a registry from defs; later definitions replace earlier
// ones with the same name.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{menus: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.menus[d.Name] = d
	}
	return r
}

// DefaultRegistry returns the menus shipped with the service.
func DefaultRegistry() *Registry {
	return NewRegistry(HomeMenu())
}

// HomeMenu is the top-level menu.
func HomeMenu() Definition {
	return Definition{
		Name:   Home,
		Header: "Main menu",
		Body:   "Hi! What would you like to do today? Pick an option from the menu, or just type your question.",
		Button: "Menu",
		Sections: []whatsapp.Section{{
			Title: "Options",
			Rows: []whatsapp.Row{
				{ID: ItemProducts, Title: "Browse products", Description: "See what we have on offer"},
			},
		}},
	}
}

// Lookup returns the named menu.
func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.menus[name]
	return d, ok
}

// Compile renders a named menu for recipient to, branded for the tenant.
func (r *Registry) Compile(name, to string, branding Branding) (whatsapp.Message, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return whatsapp.Message{}, fmt.Errorf("menu %q not registered", name)
	}
	return d.Compile(to, branding), nil
}

// Compile renders the definition as a list message.
func (d Definition) Compile(to string, branding Branding) whatsapp.Message {
	return whatsapp.NewListMessage(to, whatsapp.ListMessage{
		Header:   d.Header,
		Body:     d.Body,
		Footer:   branding.Footer(),
		Button:   d.Button,
		Sections: d.Sections,
	})
}
