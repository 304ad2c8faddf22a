package utility

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/autopilot/pkg/common"
)

// Configured sets up the file provider from flags. Without -tariff-file the
// built-in plans and profiles are used.
func Configured() *FileProvider {
	file := lflag.String("tariff-file", "", "YAML file with tariff plans and carbon profiles")
	carbonURL := lflag.String("carbon-profile-url", "", "URL returning a JSON carbon profile; {region} is replaced with the region code")
	cacheTTL := lflag.Duration("carbon-profile-ttl", time.Hour, "How long a fetched carbon profile is cached")

	p := NewFileProvider(Defaults())
	lflag.Do(func() {
		if *file != "" {
			data, err := LoadFile(*file)
			if err != nil {
				panic(fmt.Sprintf("tariff file load failed: %v", err))
			}
			p.SetData(data)
		}
		if *carbonURL != "" {
			p.SetCarbonURL(*carbonURL, common.HTTPClient(10*time.Second), *cacheTTL)
		}
	})
	return p
}
