// internal/transport/message.go
package transport

import (
	"fmt"
	"mime"
	"strings"
)

// BuildMessage assembles the raw RFC 822 message submitted to the relay:
// UTF-8 headers and a single HTML body.
func BuildMessage(fromName, fromAddress, to, subject, htmlBody string) []byte {
	var sb strings.Builder

	from := fromAddress
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", fromName), fromAddress)
	}

	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(htmlBody)
	sb.WriteString("\r\n")

	return []byte(sb.String())
}
