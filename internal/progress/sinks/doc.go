// Package sinks implements concrete progress consumers.
package sinks
