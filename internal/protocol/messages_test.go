package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		frame string
		want  Command
	}{
		{"subscribe:job-1", Command{Kind: CommandSubscribe, JobID: "job-1"}},
		{"  subscribe: job-2 \n", Command{Kind: CommandSubscribe, JobID: "job-2"}},
		{"subscribe:", Command{Kind: CommandOther}},
		{"PONG", Command{Kind: CommandPong}},
		{"PONG\n", Command{Kind: CommandPong}},
		{"pong", Command{Kind: CommandOther}},
		{`{"hello":"world"}`, Command{Kind: CommandOther}},
		{"", Command{Kind: CommandOther}},
	}

	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse([]byte(tt.frame)))
		})
	}
}

func TestHeartbeatFrame(t *testing.T) {
	assert.True(t, IsHeartbeat(HeartbeatFrame))
	assert.False(t, IsHeartbeat([]byte(`{"type":"eval","name":"reviewer","status":"done","job_id":"j"}`)))
	assert.Equal(t, "subscribe:abc", SubscribeLine("abc"))
}
