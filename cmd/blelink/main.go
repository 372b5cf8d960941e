// blelink runs simulated link-layer encryption procedures and computes the
// key material they exchange.
//
// Usage:
//
//	blelink handshake --links 4 --drop-rate 0.1
//	blelink session-key
//	blelink ltk "pairing secret"
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/pion/logging"
)

// Globals are the flags every command sees.
type Globals struct {
	LogLevel string
}

type cli struct {
	LogLevel string `enum:"disabled,error,warn,info,debug,trace" default:"warn" help:"Log level."`

	Handshake  handshakeCmd  `cmd:"" help:"Encrypt simulated links between a master and a slave."`
	SessionKey sessionKeyCmd `cmd:"" help:"Compute a session key from a long-term key and the exchanged vectors."`
	LTK        ltkCmd        `cmd:"" name:"ltk" help:"Derive a long-term key from a shared secret."`
}

func main() {
	var cli cli

	ctx := kong.Parse(&cli)
	err := ctx.Run(&Globals{LogLevel: cli.LogLevel})
	ctx.FatalIfErrorf(err)
}

func (g *Globals) loggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = os.Stderr
	switch g.LogLevel {
	case "disabled":
		f.DefaultLogLevel = logging.LogLevelDisabled
	case "error":
		f.DefaultLogLevel = logging.LogLevelError
	case "info":
		f.DefaultLogLevel = logging.LogLevelInfo
	case "debug":
		f.DefaultLogLevel = logging.LogLevelDebug
	case "trace":
		f.DefaultLogLevel = logging.LogLevelTrace
	default:
		f.DefaultLogLevel = logging.LogLevelWarn
	}
	return f
}

// decodeHex decodes s into exactly n bytes.
func decodeHex(name, s string, n int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(b) != n {
		return nil, fmt.Errorf("%s: got %d bytes, want %d", name, len(b), n)
	}
	return b, nil
}
