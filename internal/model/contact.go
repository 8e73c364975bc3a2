// internal/model/contact.go
package model

type Contact struct {
	ID        int               `db:"id" json:"id"`
	Email     string            `db:"email" json:"email"`
	Phone     string            `db:"phone" json:"phone"`
	Variables map[string]string `db:"variables" json:"variables"`
}

// Bindings returns the contact variables plus address-derived ones the
// contact does not set itself.
func (c *Contact) Bindings() map[string]string {
	out := make(map[string]string, len(c.Variables)+2)
	for k, v := range c.Variables {
		out[k] = v
	}
	if _, ok := out["email"]; !ok && c.Email != "" {
		out["email"] = c.Email
	}
	if _, ok := out["phone"]; !ok && c.Phone != "" {
		out["phone"] = c.Phone
	}
	return out
}

// AddressFor returns the destination used on the given channel.
func (c *Contact) AddressFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelWhatsApp:
		return c.Phone
	}
	return ""
}
