/*
Package linepipe allows to build and execute multi-stage line processing
pipelines.

Concept

A pipeline is an ordered chain of stages. Every stage owns a bounded
inbound queue and a goroutine which pops lines, applies a transform and
forwards the result to the next stage:

    input -> stage 0 -> stage 1 -> ... -> stage N-1

Stages are independent plugins. The only thing a stage knows about its
successor is the Enqueuer it was attached to. Full queues block the
producer, so a slow stage throttles the whole chain upstream of it.

Items

Every value flowing through the chain is an Item: either Data(line) or
EndOfStream. The marker is forwarded by each stage exactly once and
terminates the stage worker. On the host input the reserved line <END>
is parsed into the marker with ParseLine.

Execution

The pipeline package wires plugins together and drives them:

    p, err := pipeline.New(capacity, plugins)
    if err != nil {
        return err
    }
    err = p.Run(ctx, os.Stdin)

Run feeds input line by line, always injects the marker when input is
exhausted and returns once every stage has drained and exited.
*/
package linepipe
