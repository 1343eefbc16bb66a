package pipefile

// Example is the pipeline written by "memopipe config init --example": draw
// normal samples of growing size, compare their statistics with the known
// parameters, and bin them.
const Example = `version: 1
tasks:
  - name: samples_10
    op: normal_samples
    params: {n: 10, mean: 10, sd: 2, seed: 1}
  - name: samples_100
    op: normal_samples
    params: {n: 100, mean: 10, sd: 2, seed: 2}
  - name: samples_1000
    op: normal_samples
    params: {n: 1000, mean: 10, sd: 2, seed: 3}
  - name: summary
    op: summarize
    inputs: [samples_10, samples_100, samples_1000]
    params: {mean: 10, sd: 2}
  - name: differences
    op: percent_difference
    inputs: [summary]
  - name: figure
    op: histogram
    inputs: [samples_10, samples_100, samples_1000]
    params: {bins: 12}
`
