// Package sdmx extracts observations from SDMX-ML 2.1 generic data documents.
package sdmx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/quarter"
)

const GenericNamespace = "http://www.sdmx.org/resources/sdmxml/schemas/v2_1/data/generic"

// Filter selects series whose key carries every listed dimension value.
type Filter map[string]string

// DefaultFilter selects the unadjusted count of dwellings in new residential buildings.
var DefaultFilter = Filter{"DATA_TYPE": "NUMDW", "ADJUSTMENT": "N"}

// Matches reports whether key holds every dimension value of the filter.
func (f Filter) Matches(key map[string]string) bool {
	for dim, want := range f {
		if got, ok := key[dim]; !ok || got != want {
			return false
		}
	}
	return true
}

func (f Filter) String() string {
	return formatKey(f)
}

// Series is one decoded Series element with its raw observations.
type Series struct {
	Key          map[string]string
	Observations []RawObservation
}

type RawObservation struct {
	Period string
	Value  string
}

type genericSeries struct {
	SeriesKey *genericKey  `xml:"SeriesKey"`
	Obs       []genericObs `xml:"Obs"`
}

type genericKey struct {
	Values []genericValue `xml:"Value"`
}

type genericValue struct {
	ID    string `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

type genericObs struct {
	Dimension *genericValue `xml:"ObsDimension"`
	Value     *genericValue `xml:"ObsValue"`
}

// ReadSeries decodes every Series element of the document, at any depth.
func ReadSeries(r io.Reader) ([]Series, error) {
	dec := xml.NewDecoder(r)
	var out []Series
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Series" {
			continue
		}
		if start.Name.Space != "" && start.Name.Space != GenericNamespace {
			continue
		}

		idx := len(out)
		var gs genericSeries
		if err := dec.DecodeElement(&gs, &start); err != nil {
			return nil, &models.ParseError{Series: idx, Observation: -1, Err: err}
		}
		if gs.SeriesKey == nil || len(gs.SeriesKey.Values) == 0 {
			return nil, &models.ParseError{Series: idx, Observation: -1, Err: models.ErrMissingSeriesKey}
		}

		s := Series{Key: make(map[string]string, len(gs.SeriesKey.Values))}
		for _, v := range gs.SeriesKey.Values {
			s.Key[v.ID] = v.Value
		}
		for i, o := range gs.Obs {
			if o.Dimension == nil {
				return nil, &models.ParseError{Series: idx, Observation: i, Key: formatKey(s.Key), Err: models.ErrMissingPeriod}
			}
			if o.Value == nil {
				return nil, &models.ParseError{Series: idx, Observation: i, Key: formatKey(s.Key), Err: models.ErrMissingValue}
			}
			s.Observations = append(s.Observations, RawObservation{
				Period: strings.TrimSpace(o.Dimension.Value),
				Value:  strings.TrimSpace(o.Value.Value),
			})
		}
		out = append(out, s)
	}
	return out, nil
}

// Parse extracts the observations of every series matching filter.
// Any malformed matching observation fails the whole document.
func Parse(data []byte, filter Filter) ([]models.Observation, error) {
	return ParseReader(bytes.NewReader(data), filter)
}

func ParseReader(r io.Reader, filter Filter) ([]models.Observation, error) {
	series, err := ReadSeries(r)
	if err != nil {
		return nil, err
	}

	var obs []models.Observation
	for si, s := range series {
		if !filter.Matches(s.Key) {
			continue
		}
		key := formatKey(s.Key)
		for oi, raw := range s.Observations {
			period, err := quarter.ParseLabel(raw.Period)
			if err != nil {
				return nil, &models.ParseError{Series: si, Observation: oi, Key: key,
					Err: fmt.Errorf("%w: %q", models.ErrBadPeriod, raw.Period)}
			}
			value, err := parseCount(raw.Value)
			if err != nil {
				return nil, &models.ParseError{Series: si, Observation: oi, Key: key,
					Err: fmt.Errorf("%w: %q", models.ErrBadValue, raw.Value)}
			}
			obs = append(obs, models.Observation{
				SeriesKey:   s.Key,
				PeriodLabel: raw.Period,
				Period:      period,
				Value:       value,
			})
		}
	}
	return obs, nil
}

// parseCount accepts integers and integral decimals such as "14918.0".
func parseCount(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("not an integer: %s", s)
	}
	return int64(f), nil
}

func formatKey(key map[string]string) string {
	dims := make([]string, 0, len(key))
	for k := range key {
		dims = append(dims, k)
	}
	sort.Strings(dims)
	parts := make([]string, len(dims))
	for i, k := range dims {
		parts[i] = k + "=" + key[k]
	}
	return strings.Join(parts, ",")
}
