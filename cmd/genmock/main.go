// Command genmock writes deterministic synthetic GSOD station files, laid out the way the
// NOAA archive is, together with a matching isd-history.csv. The files are built with the
// domain encoder so they decode exactly like real data.
//
// Usage:
//
//	go run ./cmd/genmock --out-dir data/mock/raw --years 2009-2010 \
//	  --stations-out data/mock/state/isd-history.csv --corrupt-every 97 --gzip
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"
	flag "github.com/spf13/pflag"

	"github.com/couchcryptid/gsod-etl/internal/adapter/isd"
	"github.com/couchcryptid/gsod-etl/internal/config"
	"github.com/couchcryptid/gsod-etl/internal/domain"
	"github.com/couchcryptid/gsod-etl/internal/mockdata"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.StringP("out-dir", "o", "", "directory to write <year>/<USAF>-<WBAN>-<year>.op files into")
	yearsFlag := flag.StringP("years", "y", "2010", "years to generate, e.g. 2009-2010")
	seed := flag.Uint64("seed", 1, "random seed")
	corruptEvery := flag.Int("corrupt-every", 0, "truncate every Nth data line (0 disables)")
	compress := flag.Bool("gzip", false, "write .op.gz files as served by NOAA")
	stationsOut := flag.String("stations-out", "", "also write an isd-history.csv for the generated stations")
	flag.Parse()

	if *outDir == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: --out-dir")
	}
	years, err := config.ParseYears(*yearsFlag)
	if err != nil {
		return err
	}
	if len(years) == 0 {
		return fmt.Errorf("--years must select at least one year")
	}

	var total int
	for _, year := range years {
		for _, st := range mockdata.DefaultStations {
			days := mockdata.Year(st, year, *seed)
			path, err := writeStation(*outDir, st, year, days, *corruptEvery, *compress)
			if err != nil {
				return fmt.Errorf("station %s-%s %d: %w", st.USAF, st.WBAN, year, err)
			}
			total += len(days)
			log.Printf("%s: %d days", path, len(days))
		}
	}
	log.Printf("total: %d station-days", total)

	if *stationsOut != "" {
		stations := make([]domain.StationMeta, len(mockdata.DefaultStations))
		for i, st := range mockdata.DefaultStations {
			stations[i] = st.Meta()
		}
		if err := isd.Save(*stationsOut, stations); err != nil {
			return err
		}
		log.Printf("wrote station list: %s", *stationsOut)
	}
	return nil
}

func writeStation(outDir string, st mockdata.Station, year int, days []domain.StationDay, corruptEvery int, compress bool) (string, error) {
	name := domain.SourceName(st.USAF, st.WBAN, year)
	if !compress {
		name = name[:len(name)-len(".gz")]
	}
	path := filepath.Join(outDir, strconv.Itoa(year), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var w io.Writer = f
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := mockdata.WriteOp(w, days, corruptEvery); err != nil {
		return "", err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return "", err
		}
	}
	return path, f.Close()
}
