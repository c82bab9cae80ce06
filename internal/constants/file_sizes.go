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

package constants

const (
	HTTPBodyLimitBytes = int64(1024 * 1024)       // 1MB HTTP request body limit
	MaxUploadBytes     = int64(500 * 1024 * 1024) // 500MB largest accepted raw image
	MaxSearchResults   = 1000                     // hard cap on one search page
)
