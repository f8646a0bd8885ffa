// allocview - Inspect register allocation and exit stub layout for a
// demo trace without running any generated code.
package main

import (
	"fmt"
	"os"

	"github.com/lunavm/luna/ir"
	"github.com/lunavm/luna/jit"
	log "github.com/lunavm/luna/log"
	"github.com/lunavm/luna/mcode"
	"github.com/lunavm/luna/target"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "allocview",
		Short: "Trace register allocation viewer",
		Long: `Builds a synthetic loop trace, runs the reverse register allocation
pass over it and prints the per-instruction register and spill slot
decisions. Useful for eyeballing the eviction heuristic and the exit
stub layout without executing machine code.`,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		logLevel     string
		debugModules string
		phiWeight    uint32
		nregs        uint8
		liveValues   int
	)
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&debugModules, "debug", "", "Comma separated list of log modules to enable")

	var allocCmd = &cobra.Command{
		Use:   "alloc",
		Short: "Run the allocation pass over a synthetic loop trace",
		Run: func(cmd *cobra.Command, args []string) {
			log.InitLogger(logLevel)
			log.EnableModules(debugModules)

			cfg := jit.DefaultConfig()
			cfg.PhiWeight = phiWeight
			if nregs > 0 {
				cfg.Allow = target.RegSetRange(target.RidEax, target.Reg(nregs)).
					Exclude(target.RidSP).Exclude(target.RidBase)
			}
			J, err := jit.NewState(cfg)
			if err != nil {
				fmt.Printf("Config error: %v\n", err)
				os.Exit(1)
			}

			tr := demoTrace(liveValues)
			if err := J.CompileTrace(tr); err != nil {
				fmt.Printf("Compile failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(tr.String())
			fmt.Printf("evictions=%d spills=%d guards=%d\n",
				tr.Evictions, tr.Spills, tr.NGuards())
		},
	}
	allocCmd.Flags().Uint32Var(&phiWeight, "phiweight", target.DefaultPhiWeight, "PHI eviction protection weight (power of two, 2..32768)")
	allocCmd.Flags().Uint8Var(&nregs, "nregs", 0, "Restrict the GPR pool to registers [0,n) to force evictions")
	allocCmd.Flags().IntVar(&liveValues, "live", 4, "Number of simultaneously live accumulators in the demo loop")

	var stubsCmd = &cobra.Command{
		Use:   "stubs",
		Short: "Emit one exit stub group and disassemble it",
		Run: func(cmd *cobra.Command, args []string) {
			log.InitLogger(logLevel)
			log.EnableModules(debugModules)

			buf := make([]byte, mcode.StubGroupSize)
			mcode.EmitStubGroup(buf, 0, 0, 0)
			fmt.Printf("Exit stub group 0 (%d stubs, %d byte spacing):\n",
				target.ExitStubsPerGroup, target.ExitStubSpacing)
			fmt.Print(mcode.Disassemble(buf))
		},
	}

	rootCmd.AddCommand(allocCmd, stubsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// demoTrace builds a counted loop with `live` loop-carried accumulators:
// enough simultaneously live values to exercise eviction when the
// register pool is restricted with --nregs.
func demoTrace(live int) *jit.Trace {
	if live < 1 {
		live = 1
	}
	tr := jit.NewTrace(1)
	kone := tr.Append(ir.OpKInt, 1, 0, ir.TInt)
	kmax := tr.Append(ir.OpKInt, 100, 0, ir.TInt)

	// Loop preheader: initial accumulator values from the stack frame.
	init := make([]ir.Ref, live)
	for i := 0; i < live; i++ {
		init[i] = tr.Append(ir.OpBase, ir.Ref(i), 0, ir.TInt)
	}
	idx0 := tr.Append(ir.OpBase, ir.Ref(live), 0, ir.TInt)

	tr.Append(ir.OpLoop, 0, 0, ir.TNil)

	// Loop body: bump every accumulator, then the index, then guard.
	next := make([]ir.Ref, live)
	for i := 0; i < live; i++ {
		next[i] = tr.Append(ir.OpAdd, init[i], kone, ir.TInt)
	}
	idx := tr.Append(ir.OpAdd, idx0, kone, ir.TInt)
	tr.Append(ir.OpLt, idx, kmax, ir.TInt)

	for i := 0; i < live; i++ {
		tr.Append(ir.OpPhi, init[i], next[i], ir.TInt)
	}
	tr.Append(ir.OpPhi, idx0, idx, ir.TInt)
	return tr
}
