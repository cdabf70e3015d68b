package sdmx

import (
	"net/url"
	"strings"
)

// Query describes an SDMX REST data request.
type Query struct {
	BaseURL     string // e.g. https://esploradati.istat.it/SDMXWS/rest/data
	Flow        string // agency,dataflow,version
	Key         string // series key, "all" when empty
	StartPeriod string
	EndPeriod   string
}

// URL renders the request with full detail and time at the observation level.
func (q Query) URL() string {
	key := q.Key
	if key == "" {
		key = "all"
	}
	v := url.Values{}
	v.Set("detail", "full")
	if q.StartPeriod != "" {
		v.Set("startPeriod", q.StartPeriod)
	}
	if q.EndPeriod != "" {
		v.Set("endPeriod", q.EndPeriod)
	}
	v.Set("dimensionAtObservation", "TIME_PERIOD")

	return strings.TrimRight(q.BaseURL, "/") + "/" + q.Flow + "/" + key + "/ALL/?" + v.Encode()
}
