package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ZacharyZcR/PEImage/internal/cli"
	"github.com/ZacharyZcR/PEImage/internal/pe"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd holds the analysis flags.
type RootCmd struct {
	Virtual       bool
	LoadedBase    string
	MaxChildren   int
	MaxNameLength int
	MaxDepth      int

	Verbose   bool
	Resources bool
	Export    string
	Debug     bool
}

// NewRootCmd creates the peimage command.
func NewRootCmd() *cobra.Command {
	cmd := &RootCmd{}
	rootCmd := &cobra.Command{
		Use:           "peimage <file>",
		Short:         "分析PE映像（文件或内存转储）",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return cmd.Run(args[0])
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&cmd.Virtual, "virtual", false, "输入是已映射的内存映像（RVA即偏移）")
	flags.StringVar(&cmd.LoadedBase, "loaded-base", "", "按此加载基址重定位读取 (十六进制，例如: 0x7ff600000000)")
	flags.IntVar(&cmd.MaxChildren, "max-children", pe.DefaultMaxResourceChildren, "每个资源目录最多读取的子项数")
	flags.IntVar(&cmd.MaxNameLength, "max-name-length", pe.DefaultMaxResourceNameLength, "资源名称最大长度（字符）")
	flags.IntVar(&cmd.MaxDepth, "max-depth", pe.DefaultMaxResourceDepth, "资源树最大深度")
	flags.BoolVarP(&cmd.Verbose, "verbose", "v", false, "详细模式：显示所有导出函数")
	flags.BoolVar(&cmd.Resources, "resources", false, "打印资源树")
	flags.StringVar(&cmd.Export, "export", "", "查找导出函数并打印其文件偏移")
	flags.BoolVar(&cmd.Debug, "debug", false, "输出调试日志")

	return rootCmd
}

func (cmd *RootCmd) logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if cmd.Debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

func (cmd *RootCmd) options(log *logrus.Logger) (pe.Options, error) {
	opts := pe.DefaultOptions()
	opts.IsVirtual = cmd.Virtual
	opts.MaxResourceChildren = cmd.MaxChildren
	opts.MaxResourceNameLength = cmd.MaxNameLength
	opts.MaxResourceDepth = cmd.MaxDepth
	opts.Logger = log

	if cmd.LoadedBase != "" {
		base, err := strconv.ParseUint(cmd.LoadedBase, 0, 64)
		if err != nil {
			return opts, errors.Wrapf(err, "无效的加载基址 %q", cmd.LoadedBase)
		}
		opts.LoadedBase = base
	}
	return opts, nil
}

// Run analyzes the image at path.
func (cmd *RootCmd) Run(path string) error {
	log := cmd.logger()
	opts, err := cmd.options(log)
	if err != nil {
		return err
	}

	img, err := pe.OpenFile(path, opts)
	if err != nil {
		return err
	}
	defer func() { _ = img.Close() }()

	log.WithFields(logrus.Fields{
		"file":    path,
		"valid":   img.IsValid(),
		"virtual": opts.IsVirtual,
	}).Debug("opened image")

	info := pe.NewAnalyzer(img).Analyze()
	reporter := cli.NewReporter(path, info)
	reporter.SetVerbose(cmd.Verbose)
	reporter.Print()

	if cmd.Resources {
		cli.PrintResourceTree(color.Output, img.Resources(), cmd.MaxDepth)
	}

	if cmd.Export != "" {
		cmd.printExport(img)
	}

	if !info.Valid {
		return errors.Errorf("%s 不是有效的PE映像", path)
	}
	return nil
}

func (cmd *RootCmd) printExport(img *pe.Image) {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(color.Output, "\n【导出查找】%s\n", cmd.Export)

	offset, ok := img.FindExport(cmd.Export)
	if !ok {
		gray := color.New(color.FgHiBlack)
		gray.Fprintln(color.Output, "  未找到")
		return
	}
	green := color.New(color.FgGreen)
	green.Fprintf(color.Output, "  偏移 0x%X\n", offset)
	fmt.Fprintln(color.Output)
}
