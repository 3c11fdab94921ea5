package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		want    ActionKind
		wantErr string
	}{
		{
			name: "reindex needs only a model",
			req:  Request{Model: "image", Action: "REINDEX"},
			want: ActionReindex,
		},
		{
			name:    "unknown model",
			req:     Request{Model: "video", Action: "REINDEX"},
			wantErr: "model",
		},
		{
			name:    "unknown action",
			req:     Request{Model: "image", Action: "REBUILD"},
			wantErr: "action",
		},
		{
			name:    "update index requires since date",
			req:     Request{Model: "audio", Action: "UPDATE_INDEX"},
			wantErr: "since_date",
		},
		{
			name: "update index with since date",
			req:  Request{Model: "audio", Action: "UPDATE_INDEX", SinceDate: "2026-01-01"},
			want: ActionUpdateIndex,
		},
		{
			name:    "point alias requires suffix and alias",
			req:     Request{Model: "image", Action: "POINT_ALIAS", IndexSuffix: "abc"},
			wantErr: "index_suffix",
		},
		{
			name:    "promote requires suffix and alias",
			req:     Request{Model: "image", Action: "PROMOTE", Alias: "image"},
			wantErr: "index_suffix",
		},
		{
			name: "promote with suffix and alias",
			req:  Request{Model: "image", Action: "PROMOTE", IndexSuffix: "abc", Alias: "image"},
			want: ActionPromote,
		},
		{
			name:    "delete index with neither alias nor suffix",
			req:     Request{Model: "image", Action: "DELETE_INDEX"},
			wantErr: "alias",
		},
		{
			name:    "delete index with both alias and suffix",
			req:     Request{Model: "image", Action: "DELETE_INDEX", Alias: "image", IndexSuffix: "abc"},
			wantErr: "alias",
		},
		{
			name: "delete index by suffix",
			req:  Request{Model: "image", Action: "DELETE_INDEX", IndexSuffix: "abc"},
			want: ActionDeleteIndex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := tt.req.Validate()
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, action)
		})
	}
}
