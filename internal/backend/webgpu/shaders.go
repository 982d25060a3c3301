//go:build windows

package webgpu

// workgroupSize is the number of invocations per workgroup.
const workgroupSize = 256

// visibleFn is the causal/window visibility rule shared by the kernels.
const visibleFn = `
fn visible(qp: i32, kp: i32, window: u32) -> bool {
    if (kp < 1 || kp > qp) {
        return false;
    }
    return window == 0u || u32(qp - kp) < window;
}
`

// ropeShader rotates pairs (2i, 2i+1) with host-computed cos/sin tables,
// one invocation per (row, head, pair).
const ropeShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> cos_t: array<f32>;
@group(0) @binding(2) var<storage, read> sin_t: array<f32>;
@group(0) @binding(3) var<storage, read_write> result: array<f32>;

struct Params {
    rows: u32,
    heads: u32,
    head_dim: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let half = params.head_dim / 2u;
    let idx = global_id.x;
    if (idx >= params.rows * params.heads * half) {
        return;
    }
    let row = idx / (params.heads * half);
    let rem = idx % (params.heads * half);
    let h = rem / half;
    let i = rem % half;

    let off = (row * params.heads + h) * params.head_dim + 2u * i;
    let c = cos_t[row * half + i];
    let s = sin_t[row * half + i];
    let even = x[off];
    let odd = x[off + 1u];
    result[off] = even * c - odd * s;
    result[off + 1u] = even * s + odd * c;
}
`

// scoresShader computes one grouped score per invocation.
const scoresShader = visibleFn + `
@group(0) @binding(0) var<storage, read> q: array<f32>;
@group(0) @binding(1) var<storage, read> k: array<f32>;
@group(0) @binding(2) var<storage, read> qpos: array<i32>;
@group(0) @binding(3) var<storage, read> kpos: array<i32>;
@group(0) @binding(4) var<storage, read_write> result: array<f32>;

struct Params {
    batch: u32,
    seq_q: u32,
    n_q: u32,
    seq_k: u32,
    n_kv: u32,
    head_dim: u32,
    group: u32,
    window: u32,
    scale_bits: u32,
    neg_inf_bits: u32,
}
@group(0) @binding(5) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.batch * params.seq_q * params.n_q * params.seq_k) {
        return;
    }
    let j = idx % params.seq_k;
    let t = idx / params.seq_k;
    let h = t % params.n_q;
    let t2 = t / params.n_q;
    let i = t2 % params.seq_q;
    let b = t2 / params.seq_q;

    if (!visible(qpos[b * params.seq_q + i], kpos[b * params.seq_k + j], params.window)) {
        result[idx] = bitcast<f32>(params.neg_inf_bits);
        return;
    }

    let q_off = ((b * params.seq_q + i) * params.n_q + h) * params.head_dim;
    let k_off = ((b * params.seq_k + j) * params.n_kv + h / params.group) * params.head_dim;
    var acc: f32 = 0.0;
    for (var d: u32 = 0u; d < params.head_dim; d = d + 1u) {
        acc = acc + q[q_off + d] * k[k_off + d];
    }
    result[idx] = acc * bitcast<f32>(params.scale_bits);
}
`

// softmaxShader normalizes one (batch, query, head) row per invocation over
// its visible keys. Rows without visible keys stay all-zero.
const softmaxShader = visibleFn + `
@group(0) @binding(0) var<storage, read> scores: array<f32>;
@group(0) @binding(1) var<storage, read> qpos: array<i32>;
@group(0) @binding(2) var<storage, read> kpos: array<i32>;
@group(0) @binding(3) var<storage, read_write> result: array<f32>;

struct Params {
    batch: u32,
    seq_q: u32,
    n_q: u32,
    seq_k: u32,
    window: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.batch * params.seq_q * params.n_q) {
        return;
    }
    let t = idx / params.n_q;
    let i = t % params.seq_q;
    let b = t / params.seq_q;
    let qp = qpos[b * params.seq_q + i];
    let off = idx * params.seq_k;

    var found = false;
    var max_val: f32 = 0.0;
    for (var j: u32 = 0u; j < params.seq_k; j = j + 1u) {
        result[off + j] = 0.0;
        if (visible(qp, kpos[b * params.seq_k + j], params.window)) {
            if (!found || scores[off + j] > max_val) {
                max_val = scores[off + j];
                found = true;
            }
        }
    }
    if (!found) {
        return;
    }

    var sum: f32 = 0.0;
    for (var j: u32 = 0u; j < params.seq_k; j = j + 1u) {
        if (visible(qp, kpos[b * params.seq_k + j], params.window)) {
            let e = exp(scores[off + j] - max_val);
            result[off + j] = e;
            sum = sum + e;
        }
    }
    let inv = 1.0 / sum;
    for (var j: u32 = 0u; j < params.seq_k; j = j + 1u) {
        result[off + j] = result[off + j] * inv;
    }
}
`

// aggregateShader computes one output element per invocation, skipping
// zero-probability slots.
const aggregateShader = `
@group(0) @binding(0) var<storage, read> probs: array<f32>;
@group(0) @binding(1) var<storage, read> v: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    batch: u32,
    seq_q: u32,
    n_q: u32,
    seq_k: u32,
    n_kv: u32,
    head_dim: u32,
    group: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.batch * params.seq_q * params.n_q * params.head_dim) {
        return;
    }
    let d = idx % params.head_dim;
    let t = idx / params.head_dim;
    let h = t % params.n_q;
    let t2 = t / params.n_q;
    let i = t2 % params.seq_q;
    let b = t2 / params.seq_q;

    let p_off = ((b * params.seq_q + i) * params.n_q + h) * params.seq_k;
    let kv = h / params.group;
    var acc: f32 = 0.0;
    for (var j: u32 = 0u; j < params.seq_k; j = j + 1u) {
        let w = probs[p_off + j];
        if (w != 0.0) {
            acc = acc + w * v[((b * params.seq_k + j) * params.n_kv + kv) * params.head_dim + d];
        }
    }
    result[idx] = acc;
}
`
