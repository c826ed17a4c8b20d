/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package calibration

import (
	"fmt"

	"github.com/recsync/recsync/pkg/models"
)

// PatternPoints expands a pattern type into its point layout. Coordinates
// are normalized to [0,1]. Custom patterns take the caller's points and only
// renumber them.
func PatternPoints(pattern models.PatternType, custom []models.CalibrationPoint) ([]models.CalibrationPoint, error) {
	switch pattern {
	case models.PatternSinglePoint:
		return pointsAt([][2]float64{{0.5, 0.5}}), nil

	case models.PatternMultiPoint:
		return pointsAt([][2]float64{
			{0.1, 0.1}, {0.9, 0.1}, {0.1, 0.9}, {0.9, 0.9},
		}), nil

	case models.PatternGrid:
		coords := make([][2]float64, 0, 9)
		for _, y := range []float64{0.1, 0.5, 0.9} {
			for _, x := range []float64{0.1, 0.5, 0.9} {
				coords = append(coords, [2]float64{x, y})
			}
		}

		return pointsAt(coords), nil

	case models.PatternCustom:
		if len(custom) == 0 {
			return nil, errCustomPointsRequired
		}

		points := make([]models.CalibrationPoint, len(custom))

		for i, p := range custom {
			if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
				return nil, fmt.Errorf("%w: point %d at (%g, %g)", errPointOutOfRange, i, p.X, p.Y)
			}

			points[i] = models.CalibrationPoint{Index: i, X: p.X, Y: p.Y}
		}

		return points, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, pattern)
	}
}

func pointsAt(coords [][2]float64) []models.CalibrationPoint {
	points := make([]models.CalibrationPoint, len(coords))

	for i, c := range coords {
		points[i] = models.CalibrationPoint{Index: i, X: c[0], Y: c[1]}
	}

	return points
}
