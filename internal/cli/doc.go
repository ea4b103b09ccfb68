// Package cli holds what every mercury tool shares: the command skeleton,
// the common flags and environment, logging and tracing setup, the status
// server, and turning a run into a report and an exit code.
//
// A tool describes itself with a Tool and hands it to Main:
//
//	func main() {
//		os.Exit(cli.Main(cli.Tool{
//			Name:     "seesv",
//			Short:    "filter and reshape CSV files",
//			Pipeline: buildPipeline,
//		}))
//	}
package cli
