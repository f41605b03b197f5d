package main

/*
  srma-realign re-aligns reads around indels using a per-region variation
  graph built from every read spanning that region, the way SRMA does local
  realignment without an external indel call set. For more information, see
  github.com/grailbio/srma/pipeline.
*/

import (
	"flag"
	"io"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/srma/encoding/bamprovider"
	"github.com/grailbio/srma/encoding/fasta"
	"github.com/grailbio/srma/adapters"
	"github.com/grailbio/srma/errkind"
	"github.com/grailbio/srma/pipeline"
	"github.com/grailbio/srma/progress"
	"github.com/grailbio/srma/rangeset"
	"github.com/grailbio/srma/realign"
)

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

var (
	inputs  stringList
	outputs stringList

	referencePath = flag.String("r", "", "Reference FASTA file")
	offset        = flag.Int("O", 20, "Alignment offset")
	minMapQ       = flag.Int("m", 0, "Minimum mapping quality")
	minAlleleProb = flag.Float64("p", 0.1, "Minimum allele probability to consider in a graph column")
	minAlleleCov  = flag.Int("c", 3, "Minimum allele coverage to consider in a graph column")
	maxTotalCov   = flag.Int("t", 100, "Maximum total coverage at a position before the search gives up")
	rangeStr      = flag.String("R", "", "Single range to realign, as name[:begin[-end]]")
	rangesFile    = flag.String("Z", "", "File of ranges to realign, one per line")
	correctBases  = flag.Int("C", 0, "Correct bases with the consensus (0 or 1)")
	useQualities  = flag.Int("q", 1, "Use base qualities during the search (0 or 1)")
	maxHeapSize   = flag.Int("H", 8192, "Maximum search heap size before a record's realignment is aborted")
	maxQueueSize  = flag.Int("Q", 65536, "Maximum number of records queued before draining")
	numThreads    = flag.Int("n", 1, "Number of realignment worker threads")
	headerFile    = flag.String("b", "", "Header template to write multiple inputs to a single merged output")
)

func init() {
	flag.Var(&inputs, "i", "Input BAM/PAM file (repeatable)")
	flag.Var(&outputs, "o", "Output BAM file (repeatable; one per -i, or exactly one when -b is given)")
}

func validateFlags() error {
	if len(inputs) == 0 {
		return errkind.New(errkind.CommandLineArgument, "at least one -i is required")
	}
	if len(outputs) == 0 {
		return errkind.New(errkind.CommandLineArgument, "at least one -o is required")
	}
	if *referencePath == "" {
		return errkind.New(errkind.CommandLineArgument, "-r is required")
	}
	if *rangeStr != "" && *rangesFile != "" {
		return errkind.New(errkind.CommandLineArgument, "-R and -Z are mutually exclusive")
	}
	if *headerFile == "" {
		if len(outputs) != len(inputs) {
			return errkind.New(errkind.CommandLineArgument, "-o count must match -i count, unless -b is given")
		}
	} else if len(outputs) != 1 {
		return errkind.New(errkind.CommandLineArgument, "-b requires exactly one -o")
	}
	return nil
}

func realignConfig() pipeline.Config {
	return pipeline.Config{
		Offset:            int32(*offset),
		MinMapQ:           *minMapQ,
		NumThreads:        *numThreads,
		MaxQueueSize:      *maxQueueSize,
		MinAlleleCoverage: int32(*minAlleleCov),
		MinAlleleProb:     *minAlleleProb,
		Realign: realign.Options{
			Offset:           int32(*offset),
			MaxTotalCoverage: int32(*maxTotalCov),
			MaxHeapSize:      int32(*maxHeapSize),
			CorrectBases:     *correctBases != 0,
			UseQualities:     *useQualities != 0,
		},
	}
}

func loadRanges(defaultHeader *sam.Header) ([]rangeset.Range, error) {
	switch {
	case *rangeStr != "":
		r, err := rangeset.ParseRange(*rangeStr)
		if err != nil {
			return nil, err
		}
		return []rangeset.Range{r}, nil
	case *rangesFile != "":
		return rangeset.ReadRangesFile(*rangesFile)
	default:
		refs := defaultHeader.Refs()
		ranges := make([]rangeset.Range, len(refs))
		for i, ref := range refs {
			ranges[i] = rangeset.Range{Contig: ref.Name()}
		}
		return ranges, nil
	}
}

func openProviders() ([]bamprovider.Provider, []*sam.Header, error) {
	providers := make([]bamprovider.Provider, len(inputs))
	headers := make([]*sam.Header, len(inputs))
	for i, path := range inputs {
		p := bamprovider.NewProvider(path)
		h, err := p.GetHeader()
		if err != nil {
			return nil, nil, errkind.Wrap(errkind.OpenFileError, err, "input", path)
		}
		providers[i] = p
		headers[i] = h
	}
	return providers, headers, nil
}

// readHeaderTemplate reads only the header of a BAM file, for use as the
// merged output's header when -b collapses multiple inputs into one file.
func readHeaderTemplate(r io.Reader) (*sam.Header, error) {
	br, err := bam.NewReader(r, 1)
	if err != nil {
		return nil, err
	}
	header := br.Header()
	return header, br.Close()
}

func main() {
	flag.Parse()
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() > 0 {
		log.Fatalf("unparsed arguments: %s", strings.Join(flag.Args(), " "))
	}
	if err := validateFlags(); err != nil {
		log.Fatalf(err.Error())
	}

	ctx := vcontext.Background()

	providers, headers, err := openProviders()
	if err != nil {
		log.Fatalf(err.Error())
	}
	defer func() {
		for i, p := range providers {
			if err := p.Close(); err != nil {
				log.Error.Printf("close input %d: %v", i, err)
			}
		}
	}()

	merged := *headerFile != ""
	outHeaders := headers
	if merged {
		tmplFile, err := file.Open(ctx, *headerFile)
		if err != nil {
			log.Fatalf(errkind.Wrap(errkind.OpenFileError, err, "header template:", *headerFile).Error())
		}
		tmplHeader, err := readHeaderTemplate(tmplFile.Reader(ctx))
		if err != nil {
			log.Fatalf(errkind.Wrap(errkind.ReadFileError, err, "header template:", *headerFile).Error())
		}
		if err := tmplFile.Close(ctx); err != nil {
			log.Fatalf(err.Error())
		}
		outHeaders = []*sam.Header{tmplHeader}
	}

	outFiles := make([]file.File, len(outputs))
	streams := make([]io.Writer, len(outputs))
	for i, path := range outputs {
		w, err := file.Create(ctx, path)
		if err != nil {
			log.Fatalf(errkind.Wrap(errkind.OpenFileError, err, "output:", path).Error())
		}
		outFiles[i] = w
		streams[i] = w.Writer(ctx)
	}
	defer func() {
		for i, w := range outFiles {
			if err := w.Close(ctx); err != nil {
				log.Error.Printf("close output %d: %v", i, err)
			}
		}
	}()

	sink, err := adapters.NewSink(streams, outHeaders, merged, *numThreads)
	if err != nil {
		log.Fatalf(err.Error())
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Error.Printf("close sink: %v", err)
		}
	}()

	refFile, err := file.Open(ctx, *referencePath)
	if err != nil {
		log.Fatalf(errkind.Wrap(errkind.OpenFileError, err, "reference:", *referencePath).Error())
	}
	fa, err := fasta.New(refFile.Reader(ctx))
	if err != nil {
		log.Fatalf(errkind.Wrap(errkind.ReadFileError, err, "reference:", *referencePath).Error())
	}
	if err := refFile.Close(ctx); err != nil {
		log.Fatalf(err.Error())
	}
	ref := adapters.NewRefWindow(fa)

	src, err := adapters.NewSource(providers)
	if err != nil {
		log.Fatalf(err.Error())
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Error.Printf("close source: %v", err)
		}
	}()

	ranges, err := loadRanges(headers[0])
	if err != nil {
		log.Fatalf(err.Error())
	}

	resolve := func(name string) (int, int, bool) {
		for i, r := range headers[0].Refs() {
			if r.Name() == name {
				return i, r.Len(), true
			}
		}
		return 0, 0, false
	}

	metrics := progress.New()
	p := pipeline.New(src, sink, ref, realignConfig(), metrics)
	if err := p.Run(ranges, resolve); err != nil {
		log.Fatalf(errors.E(err, "srma-realign failed").Error())
	}
	log.Debug.Printf("srma-realign done: %s", metrics.String())
}
