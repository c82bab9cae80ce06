// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package catalogclient

import (
	"context"

	"github.com/cardinalhq/imagelake/internal/queryengine"
)

// ErrSuperseded is returned by Searcher.Search when a newer search was
// issued before this one's results arrived. The caller should drop them.
var ErrSuperseded = queryengine.ErrSuperseded

// Searcher issues searches on behalf of an interactive view. Starting a
// search cancels the previous one, and results from an older search never
// replace those of a newer one, whatever order the responses arrive in.
type Searcher struct {
	client *Client
	gate   queryengine.Gate[[]Image]
}

func NewSearcher(c *Client) *Searcher {
	return &Searcher{client: c}
}

func (s *Searcher) Search(ctx context.Context, req SearchRequest) ([]Image, error) {
	v, _, err := s.gate.Run(ctx, func(ctx context.Context) ([]Image, error) {
		return s.client.Search(ctx, req)
	})
	return v, err
}

// Latest returns the results of the newest search that completed.
func (s *Searcher) Latest() ([]Image, bool) {
	v, _, ok := s.gate.Latest()
	return v, ok
}
