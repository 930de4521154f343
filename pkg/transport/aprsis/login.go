package aprsis

import (
	"fmt"
	"strings"
)

// ReceiveOnlyPassword logs in without the right to inject packets. The
// server answers "unverified" and that is not a failure.
const ReceiveOnlyPassword = "-1"

// loginLine renders the login command sent right after the socket opens.
func loginLine(login, password, app, version, filter string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "user %s pass %s vers %s %s", login, password, app, version)
	if filter != "" {
		sb.WriteString(" filter ")
		sb.WriteString(filter)
	}
	sb.WriteString("\r\n")
	return sb.String()
}

func filterLine(filter string) string { return "#filter " + filter + "\r\n" }

// logresp is a parsed "# logresp CALL status[, server ID]" line.
type logresp struct {
	Callsign string
	Verified bool
	Server   string
}

func isLogresp(line string) bool {
	f := strings.Fields(line)
	return len(f) >= 2 && f[0] == "#" && f[1] == "logresp"
}

// parseLogresp splits the acknowledgement. ok is false when the line does not
// carry at least a callsign and a status.
func parseLogresp(line string) (r logresp, ok bool) {
	f := strings.Fields(line)
	if len(f) < 4 {
		return r, false
	}
	r.Callsign = f[2]
	r.Verified = f[3] == "verified,"
	for i := 4; i+1 < len(f); i++ {
		if f[i] == "server" {
			r.Server = f[i+1]
			break
		}
	}
	return r, true
}

// check applies the acceptance rules for a response to login/password.
// It returns the rejection reason, or "" when the login is accepted.
func (r logresp) check(login, password string) string {
	if !strings.EqualFold(r.Callsign, login) {
		return fmt.Sprintf("callsign mismatch: sent %s, server echoed %s", login, r.Callsign)
	}
	if !r.Verified && password != ReceiveOnlyPassword {
		return "incorrect password"
	}
	return ""
}
