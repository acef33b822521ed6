// Package tools provides process helpers shared by solver adapters.
package tools
