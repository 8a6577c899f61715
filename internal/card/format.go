package card

import (
	"fmt"
	"strings"
)

// orNone substitutes a placeholder for empty optional fields.
func orNone(s string) string {
	if s == "" {
		return "нет"
	}
	return s
}

// FormatModeration renders the summary posted to the moderation group.
func FormatModeration(c *Card) string {
	lines := []string{
		fmt.Sprintf("[%s] %s", c.Number, c.Fio),
		fmt.Sprintf("город: %s", c.City),
		fmt.Sprintf("статус: %s", c.Status),
		fmt.Sprintf("username: @%s", orNone(c.AccountMeta.Username)),
		fmt.Sprintf("user_id: %d", c.AccountMeta.UserID),
		fmt.Sprintf("bio: %s", orNone(c.AccountMeta.Bio)),
		fmt.Sprintf("extra: %s", orNone(c.Extra)),
	}
	return strings.Join(lines, "\n")
}

// FormatListLine renders one line of a city listing.
func FormatListLine(c *Card) string {
	fio := c.Fio
	if fio == "" {
		fio = "(без ФИО)"
	}
	return fmt.Sprintf("[%s] %s | %s | %s", c.Number, fio, c.Status, c.Decision)
}

// FormatDetailed renders the moderation summary followed by the decision and
// the full history in append order.
func FormatDetailed(c *Card) string {
	var b strings.Builder
	b.WriteString(FormatModeration(c))
	fmt.Fprintf(&b, "\nрешение: %s", c.Decision)
	fmt.Fprintf(&b, "\nистория (%d):", len(c.History))
	for _, e := range c.History {
		fmt.Fprintf(&b, "\n  %s [%s/%s] %s", e.TS, e.Source, e.Type, e.Text)
	}
	return b.String()
}
