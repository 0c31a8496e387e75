/*
Package dspstream streams real-time audio between a serial audio transport
and a processing goroutine with a ping-pong buffer scheme.

Concept

Every channel has two blocks per direction. While the transfer engine fills
one input block and drains the matching output block, software transforms
the other pair. When a block is complete, the engine's completion handler
derives the index of the finished block and posts it to a single-slot
signal. The processor waits on that signal, transforms input into output
at that index and waits again. Only the most recent index is ever
delivered, so a slow processor skips blocks, but never works on a block the
hardware owns.

Components

The stream is assembled from packages:

    block     - layout, buffer sets and frames bound to one index;
    engine    - ring transfer setup and completion handling;
    handoff   - single-slot overwrite signal;
    processor - the consumer loop;
    transport - codec interface and rate/size codes.

Controller

Controller owns stream state:

    Idle -> Streaming -> StopRequested -> Draining -> Idle

Stop is armed at the block boundary so no block is truncated. The final
block of the drain sequence is block 1; once it's processed, the drain
completes and the buffers are stable. Sample rate and size can only change
in Idle state.

    c, err := dspstream.New(e, p, codec, drained)
    if err != nil {
        // handle error
    }
    err = c.StartStreaming()
    // ...
    err = c.RequestStop()
    err = c.WaitForDrain(ctx)
    err = c.Reconfigure(32000, 24)
*/
package dspstream
