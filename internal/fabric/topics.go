// Package fabric implements the cloud side of the edge control plane: the
// broker client, RPC correlation, presence pipeline, and shell tunnels.
package fabric

import "strings"

const topicPrefix = "spotfi/router/"

// Per-router topics. Routers may only touch their own namespace (broker ACL);
// the cloud subscribes with wildcards.
func StatusTopic(routerID string) string      { return topicPrefix + routerID + "/status" }
func MetricsTopic(routerID string) string     { return topicPrefix + routerID + "/metrics" }
func RPCRequestTopic(routerID string) string  { return topicPrefix + routerID + "/rpc/request" }
func RPCResponseTopic(routerID string) string { return topicPrefix + routerID + "/rpc/response" }
func TunnelInTopic(routerID string) string    { return topicPrefix + routerID + "/x/in" }
func TunnelOutTopic(routerID string) string   { return topicPrefix + routerID + "/x/out" }

// Cloud-side wildcard subscriptions.
const (
	StatusWildcard      = topicPrefix + "+/status"
	MetricsWildcard     = topicPrefix + "+/metrics"
	RPCResponseWildcard = topicPrefix + "+/rpc/response"
	TunnelOutWildcard   = topicPrefix + "+/x/out"
)

// SplitRouterTopic extracts the router id and the remaining leaf
// ("status", "rpc/response", "x/out", ...) from a router-namespace topic.
func SplitRouterTopic(topic string) (routerID, leaf string, ok bool) {
	rest, found := strings.CutPrefix(topic, topicPrefix)
	if !found {
		return "", "", false
	}
	routerID, leaf, found = strings.Cut(rest, "/")
	if !found || routerID == "" || leaf == "" {
		return "", "", false
	}
	return routerID, leaf, true
}
