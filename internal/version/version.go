// Package version хранит сведения о сборке, задаваемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/marketplace/internal/version.version=v1.2.0
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// Fields возвращает сведения о сборке в виде полей лога.
func Fields() map[string]any {
	return map[string]any{"version": version, "commit": commit, "build_date": date}
}
