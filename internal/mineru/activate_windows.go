//go:build windows

package mineru

import "fmt"

func activationPrefix(condaEnv string) string {
	if condaEnv == "" {
		return ""
	}
	return fmt.Sprintf("call conda activate %s && ", condaEnv)
}
