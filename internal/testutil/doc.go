// Package testutil holds loopback servers, connection pairs and throwaway
// certificates shared by the package tests.
package testutil
