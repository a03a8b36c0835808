package cli

const rootLong = `wxpack builds a mini-program project from src into dist.

Script entries have their require() calls resolved; packages under
node_modules are copied next to the sources (src/npm by default) and every
require is rewritten to a relative path the mini-program runtime can load.`

const rootExample = `  wxpack build
  wxpack build --incremental --task js --list-modules
  NODE_ENV=production wxpack build --format json
  wxpack watch
  wxpack rewrite src/pages/index/index.js --write`
