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

package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Cloud Storage rewrites Accept-Encoding in transit, which breaks SigV4 when
// the header is signed. The header is taken off before signing and put back
// afterwards.

type acceptEncodingKey struct{}

var stashAcceptEncoding = middleware.FinalizeMiddlewareFunc("StashAcceptEncoding",
	func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
		req, ok := in.Request.(*smithyhttp.Request)
		if !ok {
			return middleware.FinalizeOutput{}, middleware.Metadata{}, fmt.Errorf("unexpected request type %T", in.Request)
		}
		ctx = middleware.WithStackValue(ctx, acceptEncodingKey{}, req.Header.Get("Accept-Encoding"))
		req.Header.Del("Accept-Encoding")
		return next.HandleFinalize(ctx, in)
	})

var restoreAcceptEncoding = middleware.FinalizeMiddlewareFunc("RestoreAcceptEncoding",
	func(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
		req, ok := in.Request.(*smithyhttp.Request)
		if !ok {
			return middleware.FinalizeOutput{}, middleware.Metadata{}, fmt.Errorf("unexpected request type %T", in.Request)
		}
		if v, _ := middleware.GetStackValue(ctx, acceptEncodingKey{}).(string); v != "" {
			req.Header.Set("Accept-Encoding", v)
		}
		return next.HandleFinalize(ctx, in)
	})

func unsignedAcceptEncoding(stack *middleware.Stack) error {
	if err := stack.Finalize.Insert(stashAcceptEncoding, "Signing", middleware.Before); err != nil {
		return err
	}
	return stack.Finalize.Insert(restoreAcceptEncoding, "Signing", middleware.After)
}
