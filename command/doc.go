// Package command exposes workflow entry points as go-command commanders.
package command
