// Package metrics holds the prometheus collectors shared by the stream,
// resolver and relay packages. Collectors register with the default registry
// on package init, so importing the package is enough to expose them through
// promhttp.Handler.
package metrics
