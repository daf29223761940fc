// Package version carries the tunnel client's build version, used for the
// -version flag and as the default HTTP User-Agent on status queries.
package version

import "fmt"

// Current is the tunnel client's version. Keep in sync with release tags.
const Current = "1.0.0"

// UserAgent is the default User-Agent header sent on outbound status
// requests to the remote, so proxy operators can tell which client build a
// request came from.
func UserAgent() string {
	return fmt.Sprintf("hostit-tunnel/%s", Current)
}
