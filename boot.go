package main

import "groveos/kernel"

// bootInfoPtr holds the address of the UEFIBootInfo record the loader
// places in the first argument register before jumping to this image's
// entry point. It is declared as a package-level variable (rather than
// read directly from the register in assembly) so the Go compiler
// cannot inline main away and drop Kmain from the generated object file.
var bootInfoPtr uintptr

// main is the only Go symbol that is visible (exported) from the rt0
// initialization code. It works as a trampoline for calling the actual
// kernel entrypoint (kernel.Kmain) and is intentionally defined to
// prevent the Go compiler from optimizing away the actual kernel code,
// as it is not aware of the presence of the rt0 code.
//
// The main function is invoked by the rt0 assembly code after setting up
// the GDT and a minimal g0 struct that allows Go code to run on the 4K
// stack allocated by the assembly code. rt0 stores the loader-supplied
// boot info pointer into bootInfoPtr before calling main.
//
// main is not expected to return. If it does, the rt0 code will halt the CPU.
func main() {
	kernel.Kmain(bootInfoPtr)
}
