package strategy

import (
	"context"
	"encoding/json"
	"os"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WasmPlugin hosts a strategy compiled to WebAssembly. It generalizes the
// teacher's StrategyWasmRuntime (internal/runtime/wasm.NewStrategyWasmRuntime)
// from a fixed protobuf-RPC trading-strategy ABI to the narrower
// schema/signal-frame ABI this pipeline needs: the guest module exports
// `get_schema` and `extend_signal_frame`, each taking a request JSON buffer
// and returning a packed (ptr<<32|len) pointer into guest memory holding the
// JSON response, plus an `alloc` export the host uses to write requests in.
type WasmPlugin struct {
	runtime  wazero.Runtime
	module   api.Module
	wasmPath string
}

// LoadWasmPlugin instantiates the given .wasm file under a fresh wazero
// runtime with WASI preview1 imports, mirroring
// internal/runtime/wasm.NewStrategyWasmRuntime's file-existence check.
func LoadWasmPlugin(ctx context.Context, wasmPath string) (*WasmPlugin, error) {
	if _, err := os.Stat(wasmPath); err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeStrategyRuntimeFailed, err, "wasm plugin file %q does not exist", wasmPath)
	}

	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeStrategyRuntimeFailed, err, "failed to read wasm plugin %q", wasmPath)
	}

	return loadWasmBytes(ctx, wasmBytes, wasmPath)
}

// LoadWasmPluginFromBytes instantiates an in-memory .wasm module, mirroring
// internal/runtime/wasm.NewStrategyWasmRuntimeFromBytes.
func LoadWasmPluginFromBytes(ctx context.Context, wasmBytes []byte) (*WasmPlugin, error) {
	return loadWasmBytes(ctx, wasmBytes, "")
}

func loadWasmBytes(ctx context.Context, wasmBytes []byte, wasmPath string) (*WasmPlugin, error) {
	runtime := wazero.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, runerrors.Wrap(runerrors.ErrCodeStrategyRuntimeFailed, "failed to instantiate WASI imports", err)
	}

	module, err := runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, runerrors.Wrap(runerrors.ErrCodeStrategyRuntimeFailed, "failed to instantiate wasm module", err)
	}

	return &WasmPlugin{runtime: runtime, module: module, wasmPath: wasmPath}, nil
}

// Close releases the underlying wazero runtime.
func (p *WasmPlugin) Close(ctx context.Context) error {
	if p == nil || p.runtime == nil {
		return nil
	}

	return p.runtime.Close(ctx)
}

// GetSchema invokes the guest's get_schema export with the version string
// as its request payload and unmarshals the JSON response.
func (p *WasmPlugin) GetSchema(version string) (contracts.SignalFrameSchema, error) {
	req, err := json.Marshal(map[string]string{"version": version})
	if err != nil {
		return contracts.SignalFrameSchema{}, runerrors.Wrap(runerrors.ErrCodeStrategyRuntimeFailed, "failed to marshal get_schema request", err)
	}

	resp, err := p.call(context.Background(), "get_schema", req)
	if err != nil {
		return contracts.SignalFrameSchema{}, err
	}

	var schema contracts.SignalFrameSchema
	if err := json.Unmarshal(resp, &schema); err != nil {
		return contracts.SignalFrameSchema{}, runerrors.Wrap(runerrors.ErrCodeStrategyRuntimeFailed, "failed to unmarshal get_schema response", err)
	}

	return schema, nil
}

// wasmExtendSignalFrameRequest is the JSON payload passed to the guest's
// extend_signal_frame export.
type wasmExtendSignalFrameRequest struct {
	Bars   []contracts.OHLCV `json:"bars"`
	Params json.RawMessage   `json:"params"`
}

// ExtendSignalFrame invokes the guest's extend_signal_frame export.
func (p *WasmPlugin) ExtendSignalFrame(bars []contracts.OHLCV, params json.RawMessage) (contracts.SignalFrame, error) {
	req, err := json.Marshal(wasmExtendSignalFrameRequest{Bars: bars, Params: params})
	if err != nil {
		return contracts.SignalFrame{}, runerrors.Wrap(runerrors.ErrCodeStrategyRuntimeFailed, "failed to marshal extend_signal_frame request", err)
	}

	resp, err := p.call(context.Background(), "extend_signal_frame", req)
	if err != nil {
		return contracts.SignalFrame{}, err
	}

	var frame contracts.SignalFrame
	if err := json.Unmarshal(resp, &frame); err != nil {
		return contracts.SignalFrame{}, runerrors.Wrap(runerrors.ErrCodeStrategyRuntimeFailed, "failed to unmarshal extend_signal_frame response", err)
	}

	return frame, nil
}

// call writes req into guest memory via the guest's alloc export, invokes
// fn with (ptr, len), and reads the packed (ptr<<32|len) result back out of
// guest memory.
func (p *WasmPlugin) call(ctx context.Context, fn string, req []byte) ([]byte, error) {
	alloc := p.module.ExportedFunction("alloc")
	if alloc == nil {
		return nil, runerrors.Newf(runerrors.ErrCodeStrategyRuntimeFailed, "wasm module %q does not export alloc", p.wasmPath)
	}

	target := p.module.ExportedFunction(fn)
	if target == nil {
		return nil, runerrors.Newf(runerrors.ErrCodeStrategyRuntimeFailed, "wasm module %q does not export %q", p.wasmPath, fn)
	}

	allocated, err := alloc.Call(ctx, uint64(len(req)))
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeStrategyRuntimeFailed, err, "alloc failed in %q", p.wasmPath)
	}

	ptr := uint32(allocated[0])

	if !p.module.Memory().Write(ptr, req) {
		return nil, runerrors.Newf(runerrors.ErrCodeStrategyRuntimeFailed, "failed to write request into guest memory for %q", fn)
	}

	packed, err := target.Call(ctx, uint64(ptr), uint64(len(req)))
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeStrategyRuntimeFailed, err, "%q call failed in %q", fn, p.wasmPath)
	}

	resultPtr := uint32(packed[0] >> 32)
	resultLen := uint32(packed[0])

	data, ok := p.module.Memory().Read(resultPtr, resultLen)
	if !ok {
		return nil, runerrors.Newf(runerrors.ErrCodeStrategyRuntimeFailed, "failed to read %q response from guest memory", fn)
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}
