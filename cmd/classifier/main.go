// Command classifier scores one input string with a classifier artifact.
//
//	classifier [-decode] <model> <input>
//
// The score is the raw sigmoid output in [0, 1]. The output line still ends
// in '%' so existing scripts that parse the LibML classifier output keep
// working.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/snort3/libml"
	"github.com/snort3/libml/inference"
)

func main() {
	decode := flag.Bool("decode", false, "percent-decode the input before scoring")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: classifier [-decode] <model> <input>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	fmt.Printf("Using LibML version %s\n", libml.Version)

	modelPath, input := flag.Arg(0), flag.Arg(1)
	clf, err := inference.LoadFile(modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not load %s: %v\n", modelPath, err)
		os.Exit(1)
	}

	var output float32
	if *decode {
		output, err = clf.RunQuery(input)
	} else {
		output, err = clf.Run([]byte(input))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not run classifier: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(formatResult(input, output))
}

func formatResult(input string, output float32) string {
	return fmt.Sprintf("Results\n-------\n input: '%s'\noutput: %.6g%%\n", input, output)
}
