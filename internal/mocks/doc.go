// Package mocks provides hand-written test doubles shared across packages.
package mocks
