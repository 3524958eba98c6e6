package fabric

import "testing"

func TestTopicSchema(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{StatusTopic("R1"), "spotfi/router/R1/status"},
		{MetricsTopic("R1"), "spotfi/router/R1/metrics"},
		{RPCRequestTopic("R1"), "spotfi/router/R1/rpc/request"},
		{RPCResponseTopic("R1"), "spotfi/router/R1/rpc/response"},
		{TunnelInTopic("R1"), "spotfi/router/R1/x/in"},
		{TunnelOutTopic("R1"), "spotfi/router/R1/x/out"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Fatalf("topic = %q, want %q", c.got, c.want)
		}
	}
}

func TestSplitRouterTopic(t *testing.T) {
	id, leaf, ok := SplitRouterTopic("spotfi/router/R2/rpc/response")
	if !ok || id != "R2" || leaf != "rpc/response" {
		t.Fatalf("SplitRouterTopic = %q, %q, %v", id, leaf, ok)
	}

	for _, bad := range []string{
		"other/router/R2/status",
		"spotfi/router/",
		"spotfi/router/R2",
		"",
	} {
		if _, _, ok := SplitRouterTopic(bad); ok {
			t.Fatalf("SplitRouterTopic(%q) should not parse", bad)
		}
	}
}
