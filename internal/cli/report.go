// Package cli provides command-line interface utilities.
package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ZacharyZcR/PEImage/internal/pe"
	"github.com/ZacharyZcR/PEImage/internal/symstore"
	"github.com/fatih/color"
)

// Reporter formats and prints PE analysis results.
type Reporter struct {
	info     *pe.Info
	fileName string
	out      io.Writer
	verbose  bool
}

// NewReporter creates a new reporter for the given PE info.
func NewReporter(fileName string, info *pe.Info) *Reporter {
	return &Reporter{info: info, fileName: fileName, out: color.Output}
}

// SetVerbose enables verbose mode (show all exports).
func (r *Reporter) SetVerbose(verbose bool) {
	r.verbose = verbose
}

// SetOutput redirects the report.
func (r *Reporter) SetOutput(w io.Writer) {
	r.out = w
}

// Print outputs the complete analysis report.
func (r *Reporter) Print() {
	r.printHeader()
	if !r.info.Valid {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintln(r.out, "\n  不是有效的PE映像")
		return
	}
	r.printBasicInfo()
	r.printSections()
	r.printDirectories()
	r.printDebugInfo()
	r.printVersion()
	r.printSignature()
	r.printTLS()
	r.printImports()
	r.printExports()
}

func (r *Reporter) printHeader() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintln(r.out, "\n╔════════════════════════════════════════╗")
	cyan.Fprintln(r.out, "║          PEImage 分析报告              ║")
	cyan.Fprintln(r.out, "╚════════════════════════════════════════╝")
}

func (r *Reporter) section(title string) {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.out, "\n【%s】\n", title)
}

func (r *Reporter) field(name, format string, args ...interface{}) {
	fmt.Fprintf(r.out, "  %-20s: %s\n", name, fmt.Sprintf(format, args...))
}

func (r *Reporter) printBasicInfo() {
	r.section("基本信息")

	r.field("文件路径", "%s", r.fileName)
	r.field("架构", "%s", r.info.Architecture)
	r.field("子系统", "%s", r.info.Subsystem)
	r.field("入口点", "0x%X", r.info.EntryPoint)
	r.field("镜像基址", "0x%X", r.info.ImageBase)
	if r.info.LoadedBase != 0 {
		r.field("加载基址", "0x%X", r.info.LoadedBase)
	}
	r.field("时间戳", "0x%08X", r.info.TimeDateStamp)
	r.field("镜像大小", "%s", formatSize(int64(r.info.SizeOfImage)))
	r.field("托管代码", "%t", r.info.Managed)

	if rel := r.info.Relocations; rel != nil && rel.HasRelocations {
		r.field("重定位", "%d 块, %d 项, %d 已修补", rel.BlockCount, rel.TotalEntries, rel.Patched)
		if len(rel.Types) > 0 {
			r.field("重定位类型", "%s", formatRelocationTypes(rel.Types))
		}
	}

	// Print checksum verification
	if r.info.Checksum != nil {
		fmt.Fprintf(r.out, "  %-20s: ", "校验和")
		if r.info.Checksum.Stored == 0 {
			gray := color.New(color.FgHiBlack)
			gray.Fprint(r.out, "未设置")
		} else if r.info.Checksum.Valid {
			green := color.New(color.FgGreen)
			green.Fprintf(r.out, "✓ 有效 (0x%08X)", r.info.Checksum.Stored)
		} else {
			red := color.New(color.FgRed, color.Bold)
			red.Fprintf(r.out, "✗ 无效 (存储: 0x%08X, 计算: 0x%08X)",
				r.info.Checksum.Stored, r.info.Checksum.Computed)
		}
		fmt.Fprintln(r.out)
	}
}

func (r *Reporter) printSections() {
	sections := r.info.Sections

	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.out, "\n【节区信息】(共 %d 个)\n", len(sections))

	if len(sections) == 0 {
		fmt.Fprintln(r.out, "  未发现节区")
		return
	}

	// Header
	fmt.Fprintln(r.out, strings.Repeat("-", 100))
	fmt.Fprintf(r.out, "  %-10s %-12s %-15s %-15s %-8s %-8s %-12s\n",
		"名称", "虚拟地址", "虚拟大小", "原始大小", "权限", "熵", "特征")
	fmt.Fprintln(r.out, strings.Repeat("-", 100))

	// Rows
	for _, section := range sections {
		// Highlight dangerous permissions (RWX)
		permColor := color.New(color.FgWhite)
		if section.Permissions == "RWX" {
			permColor = color.New(color.FgRed, color.Bold)
		} else if strings.Contains(section.Permissions, "X") {
			permColor = color.New(color.FgYellow)
		}

		fmt.Fprintf(r.out, "  %-10s 0x%08X   %-15s %-15s ",
			section.Name,
			section.VirtualAddress,
			formatSize(int64(section.VirtualSize)),
			formatSize(int64(section.Size)),
		)
		permColor.Fprintf(r.out, "%-8s", section.Permissions)
		entropyColor := color.New(color.FgWhite)
		if section.Entropy > 7.0 {
			entropyColor = color.New(color.FgRed)
		}
		entropyColor.Fprintf(r.out, " %-8.2f", section.Entropy)
		fmt.Fprintf(r.out, " 0x%08X\n", section.Characteristics)
	}
	fmt.Fprintln(r.out, strings.Repeat("-", 100))
}

func (r *Reporter) printDirectories() {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.out, "\n【数据目录】(共 %d 个)\n", len(r.info.Directories))

	for _, dir := range r.info.Directories {
		fmt.Fprintf(r.out, "  %-15s RVA 0x%08X  大小 %s\n",
			dir.Name, uint32(dir.VirtualAddress), formatSize(int64(dir.Size)))
	}
	if len(r.info.ResourceTypes) > 0 {
		r.field("资源类型", "%s", strings.Join(r.info.ResourceTypes, ", "))
	}
}

func (r *Reporter) printDebugInfo() {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.out, "\n【调试信息】(共 %d 个PDB)\n", len(r.info.Pdbs))

	if key := symstore.ImageKey(r.fileName, r.info.TimeDateStamp, r.info.SizeOfImage); key != "" {
		r.field("映像索引", "%s", key)
	}
	if len(r.info.Pdbs) == 0 {
		fmt.Fprintln(r.out, "  未发现PDB记录")
		return
	}

	green := color.New(color.FgGreen)
	for i, pdb := range r.info.Pdbs {
		green.Fprintf(r.out, "  %3d. %s\n", i+1, pdb.Path)
		fmt.Fprintf(r.out, "       GUID %s  Age %d\n", pdb.Guid, pdb.Age)
		if key := symstore.PdbKey(pdb); key != "" {
			fmt.Fprintf(r.out, "       索引 %s\n", key)
		}
	}
}

func (r *Reporter) printVersion() {
	v := r.info.Version
	if v == nil {
		return
	}
	r.section("版本信息")
	r.field("版本", "%s", v.String())

	fields := []struct{ name, value string }{
		{"FileVersion", v.FileVersion},
		{"ProductVersion", v.ProductVersion},
		{"CompanyName", v.CompanyName},
		{"ProductName", v.ProductName},
		{"FileDescription", v.FileDescription},
		{"InternalName", v.InternalName},
		{"OriginalFilename", v.OriginalFilename},
		{"LegalCopyright", v.LegalCopyright},
		{"Comments", v.Comments},
	}
	for _, f := range fields {
		if f.value != "" {
			r.field(f.name, "%s", f.value)
		}
	}
}

func (r *Reporter) printSignature() {
	sig := r.info.Signature
	if sig == nil {
		return
	}
	r.section("数字签名")
	if sig.DigestAlgorithm != "" {
		r.field("摘要算法", "%s", sig.DigestAlgorithm)
	}
	if len(sig.Certificates) == 0 {
		fmt.Fprintf(r.out, "  %-20s: 0x%04X (修订 0x%04X)\n", "证书类型", sig.CertificateType, sig.Revision)
		return
	}
	for i, cert := range sig.Certificates {
		c := color.New(color.FgGreen)
		if !cert.IsValid {
			c = color.New(color.FgRed)
		}
		c.Fprintf(r.out, "  %3d. %s\n", i+1, cert.Subject)
		fmt.Fprintf(r.out, "       颁发者 %s\n", cert.Issuer)
		fmt.Fprintf(r.out, "       有效期 %s - %s\n",
			cert.NotBefore.Format("2006-01-02"), cert.NotAfter.Format("2006-01-02"))
	}
}

func (r *Reporter) printTLS() {
	tls := r.info.TLS
	if tls == nil {
		return
	}
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.out, "\n【TLS】(共 %d 个回调)\n", len(tls.Callbacks))
	r.field("数据范围", "0x%X - 0x%X", tls.StartAddressOfRawData, tls.EndAddressOfRawData)
	r.field("索引地址", "0x%X", tls.AddressOfIndex)

	red := color.New(color.FgRed)
	for i, cb := range tls.Callbacks {
		red.Fprintf(r.out, "  %3d. 0x%X\n", i+1, cb)
	}
}

func (r *Reporter) printImports() {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.out, "\n【导入表】(共 %d 个DLL)\n", len(r.info.Imports))

	if len(r.info.Imports) == 0 {
		fmt.Fprintln(r.out, "  未发现导入")
		return
	}

	green := color.New(color.FgGreen)
	for i, imp := range r.info.Imports {
		funcCount := len(imp.Functions)
		green.Fprintf(r.out, "  %3d. %s (%d 个函数)\n", i+1, imp.DLL, funcCount)

		maxDisplay := 10
		if r.verbose {
			maxDisplay = funcCount
		}
		displayCount := funcCount
		if displayCount > maxDisplay {
			displayCount = maxDisplay
		}
		for _, fn := range imp.Functions[:displayCount] {
			fmt.Fprintf(r.out, "       - %s\n", fn)
		}
		if funcCount > maxDisplay {
			gray := color.New(color.FgHiBlack)
			gray.Fprintf(r.out, "       ... (还有 %d 个函数)\n", funcCount-maxDisplay)
		}
	}
}

func (r *Reporter) printExports() {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.out, "\n【导出表】(共 %d 个函数)\n", len(r.info.Exports))

	if len(r.info.Exports) == 0 {
		fmt.Fprintln(r.out, "  未发现导出")
		return
	}

	maxDisplay := 20
	if r.verbose {
		maxDisplay = len(r.info.Exports) // Show all in verbose mode
	}

	displayCount := len(r.info.Exports)
	if displayCount > maxDisplay {
		displayCount = maxDisplay
	}

	green := color.New(color.FgGreen)
	for i := 0; i < displayCount; i++ {
		exp := r.info.Exports[i]
		green.Fprintf(r.out, "  %3d. %s", i+1, exp.Name)
		fmt.Fprintf(r.out, " (序号 %d, RVA 0x%08X)", exp.Ordinal, exp.RVA)
		if exp.Forwarded {
			fmt.Fprint(r.out, " [转发]")
		}
		fmt.Fprintln(r.out)
	}

	if len(r.info.Exports) > maxDisplay {
		gray := color.New(color.FgHiBlack)
		gray.Fprintf(r.out, "  ... (还有 %d 个函数)\n", len(r.info.Exports)-maxDisplay)
	}
	fmt.Fprintln(r.out)
}

// PrintResourceTree prints the resource tree below root up to maxDepth levels.
func PrintResourceTree(w io.Writer, root *pe.ResourceNode, maxDepth int) {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintln(w, "\n【资源树】")

	if len(root.Children()) == 0 {
		fmt.Fprintln(w, "  未发现资源")
		return
	}
	printResourceNode(w, root, 0, maxDepth)
}

func printResourceNode(w io.Writer, node *pe.ResourceNode, depth, maxDepth int) {
	if depth >= maxDepth {
		return
	}
	children := node.Children()
	for i, child := range children {
		prefix := strings.Repeat("│   ", depth)
		branch := "├── "
		if i == len(children)-1 {
			branch = "└── "
		}
		if child.IsLeaf() {
			gray := color.New(color.FgHiBlack)
			fmt.Fprintf(w, "  %s%s", prefix, branch)
			gray.Fprintf(w, "%s\n", child)
			continue
		}
		fmt.Fprintf(w, "  %s%s%s\n", prefix, branch, child.Name())
		printResourceNode(w, child, depth+1, maxDepth)
	}
}

func formatRelocationTypes(types map[string]int) string {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s×%d", name, types[name])
	}
	return strings.Join(parts, ", ")
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
